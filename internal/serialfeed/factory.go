package serialfeed

import (
	"go.bug.st/serial"
)

var _ Feeder = (*Feed[serial.Port])(nil)

// NewBridgeFeed creates a Feed backed by a real serial port at the given path
// using the provided options.
func NewBridgeFeed(path string, opts PortOptions) (*Feed[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}

	return NewFeed[serial.Port](port), nil
}
