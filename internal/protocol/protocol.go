package protocol

import (
	"fmt"
)

// Mode command bits. All other bits of the command byte are ignored.
const (
	ModeRecordBit  = 0x01
	ModeMonitorBit = 0x10

	// ModeCommandSize is the number of significant bytes in a datagram
	ModeCommandSize = 1
)

// ModeCommand is a decoded control datagram. Both flags are absolute:
// a command always sets recording and monitoring, it never toggles them.
type ModeCommand struct {
	Record  bool
	Monitor bool
}

// ParseModeCommand decodes a control datagram. Only the first byte is
// significant; trailing bytes are ignored the same way a 1-byte receive
// would truncate them.
func ParseModeCommand(data []byte) (*ModeCommand, error) {
	if len(data) < ModeCommandSize {
		return nil, fmt.Errorf("mode command too short: expected %d byte, got %d", ModeCommandSize, len(data))
	}

	return DecodeMode(data[0]), nil
}

// DecodeMode decodes a single command byte
func DecodeMode(b byte) *ModeCommand {
	return &ModeCommand{
		Record:  b&ModeRecordBit != 0,
		Monitor: b&ModeMonitorBit != 0,
	}
}

// Byte encodes the command into its wire form
func (c *ModeCommand) Byte() byte {
	var b byte
	if c.Record {
		b |= ModeRecordBit
	}
	if c.Monitor {
		b |= ModeMonitorBit
	}
	return b
}

// String returns a human-readable representation of the command
func (c *ModeCommand) String() string {
	return fmt.Sprintf("ModeCommand{Record:%t, Monitor:%t, Byte:0x%02x}", c.Record, c.Monitor, c.Byte())
}
