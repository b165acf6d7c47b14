package serialfeed

import (
	"bytes"
	"io"
	"sync"
)

// TestablePort implements SerialPorter with configurable behaviour for tests
// without bridge hardware. Reads block until data arrives via AddLine or the
// port closes; writes are captured for inspection.
type TestablePort struct {
	mu sync.Mutex

	readBuf  bytes.Buffer
	writeBuf bytes.Buffer

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// ShortWrite makes the next Write report one byte fewer than written
	ShortWrite bool

	// Closed indicates whether Close was called
	Closed bool

	readCond *sync.Cond
}

// NewTestablePort creates a TestablePort ready for use.
func NewTestablePort() *TestablePort {
	p := &TestablePort{}
	p.readCond = sync.NewCond(&p.mu)
	return p
}

// Read returns buffered data, blocking until data arrives or the port
// closes. A closed port drains its buffer before reporting EOF.
func (p *TestablePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.ReadError != nil {
			err := p.ReadError
			p.ReadError = nil
			return 0, err
		}
		if p.readBuf.Len() > 0 {
			return p.readBuf.Read(b)
		}
		if p.Closed {
			return 0, io.EOF
		}
		p.readCond.Wait()
	}
}

// Write captures data written to the port, honouring any injected error.
func (p *TestablePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.WriteError != nil {
		err := p.WriteError
		p.WriteError = nil
		return 0, err
	}

	n, _ := p.writeBuf.Write(b)
	if p.ShortWrite {
		p.ShortWrite = false
		return n - 1, nil
	}
	return n, nil
}

// Close marks the port as closed and wakes blocked readers.
func (p *TestablePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Closed = true
	p.readCond.Broadcast()
	return nil
}

// AddLine queues one line for Read, appending the line terminator.
func (p *TestablePort) AddLine(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.readBuf.WriteString(line + "\n")
	p.readCond.Signal()
}

// SetWriteError arranges for the next Write to fail.
func (p *TestablePort) SetWriteError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.WriteError = err
}

// Written returns all data written to the port.
func (p *TestablePort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeBuf.String()
}
