// Package stream reads the upstream raw audio source.
// A Pump copies fixed-size reads into a Processor until the source ends or
// its context is cancelled. End of stream is terminal and is reported as
// ErrSourceLost so the caller can shut down.
package stream
