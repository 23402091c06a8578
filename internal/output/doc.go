// Package output implements the consumers of the audio stream.
//
// An immediate sink (WriterOutput) passes every chunk through to a writer that
// stays open for the lifetime of the process. Controllable sinks
// (ProcessOutput, WAVFileOutput) are started and stopped by mode changes; each
// Start opens a new recording named after its start timestamp. Their writes go
// through a bounded queue so a slow encoder never blocks the caller.
package output
