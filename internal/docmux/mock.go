package docmux

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

var errPortClosed = errors.New("document feed closed")

// PipePort is an in-memory Porter. Lines added with Feed are returned by
// Read; bytes written are captured for inspection. Reads block until data
// arrives or the port is closed.
type PipePort struct {
	mu       sync.Mutex
	cond     *sync.Cond
	readBuf  bytes.Buffer
	writeBuf bytes.Buffer
	eof      bool
	closed   bool

	// WriteError, when set, is returned by the next Write.
	WriteError error
	// ShortWrite makes Write report one byte fewer than it was given.
	ShortWrite bool
}

func NewPipePort() *PipePort {
	p := &PipePort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Feed appends data to be read.
func (p *PipePort) Feed(data string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readBuf.WriteString(data)
	p.cond.Broadcast()
}

// EOF makes Read return io.EOF once the buffered data is drained.
func (p *PipePort) EOF() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.eof = true
	p.cond.Broadcast()
}

func (p *PipePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.readBuf.Len() == 0 && !p.eof && !p.closed {
		p.cond.Wait()
	}
	if p.closed {
		return 0, errPortClosed
	}
	if p.readBuf.Len() == 0 {
		return 0, io.EOF
	}
	return p.readBuf.Read(b)
}

func (p *PipePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errPortClosed
	}
	if err := p.WriteError; err != nil {
		p.WriteError = nil
		return 0, err
	}
	n, _ := p.writeBuf.Write(b)
	if p.ShortWrite && n > 0 {
		n--
	}
	return n, nil
}

func (p *PipePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return nil
}

// Written returns everything written so far.
func (p *PipePort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeBuf.String()
}

// MockDocMux is a DocMux over a PipePort.
type MockDocMux = DocMux[*PipePort]

// NewMock returns a DocMux that will emit lines, one per document, and then
// wait for more input on its PipePort.
func NewMock(name string, lines ...string) (*MockDocMux, *PipePort) {
	port := NewPipePort()
	for _, l := range lines {
		port.Feed(l + "\n")
	}
	return New[*PipePort](name, port), port
}
