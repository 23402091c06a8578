// Package protocol implements the control-channel mode command codec.
// A command is a single byte: bit 0 requests recording and bit 4 requests
// monitoring. Both flags are applied absolutely on receipt.
package protocol
