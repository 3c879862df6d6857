// Package comandotest provides an in-memory serial port for exercising
// comando peers without hardware.
package comandotest

import (
	"bytes"
	"errors"
	"sync"

	"github.com/gwillem/stompy/pkg/comando"
)

// ErrClosed is returned by reads and writes after Close.
var ErrClosed = errors.New("port closed")

// Port is an io.ReadWriteCloser standing in for a serial port. Bytes injected
// with Inject are returned by Read; frames written by the host are decoded and
// handed to OnFrame. An empty read returns (0, nil), like a serial port whose
// read timeout expired.
type Port struct {
	mu      sync.Mutex
	in      bytes.Buffer
	out     []byte
	frames  [][]byte
	closed  bool
	onFrame func(payload []byte)

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error
}

// NewPort returns an empty port.
func NewPort() *Port {
	return &Port{}
}

// OnFrame installs a callback for every complete frame the host writes.
// The callback may call Inject to answer.
func (p *Port) OnFrame(fn func(payload []byte)) {
	p.mu.Lock()
	p.onFrame = fn
	p.mu.Unlock()
}

// Inject queues raw bytes for the host to read.
func (p *Port) Inject(data ...[]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range data {
		p.in.Write(d)
	}
}

// InjectCommand queues a command frame for the host to read.
func (p *Port) InjectCommand(id byte, args ...comando.Value) error {
	f, err := comando.CommandFrame(id, args...)
	if err != nil {
		return err
	}
	p.Inject(f)
	return nil
}

// Frames returns the payloads of all frames written by the host so far.
func (p *Port) Frames() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.frames))
	copy(out, p.frames)
	return out
}

// Commands returns the ids of all command frames written by the host so far.
func (p *Port) Commands() []byte {
	var ids []byte
	for _, f := range p.Frames() {
		if len(f) >= 2 && f[0] == comando.ProtocolCommand {
			ids = append(ids, f[1])
		}
	}
	return ids
}

// Reset forgets the frames written so far.
func (p *Port) Reset() {
	p.mu.Lock()
	p.frames = nil
	p.mu.Unlock()
}

// Closed reports whether Close was called.
func (p *Port) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	if p.ReadError != nil {
		err := p.ReadError
		p.ReadError = nil
		return 0, err
	}
	if p.in.Len() == 0 {
		return 0, nil
	}
	return p.in.Read(b)
}

func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	if p.WriteError != nil {
		err := p.WriteError
		p.WriteError = nil
		p.mu.Unlock()
		return 0, err
	}
	p.out = append(p.out, b...)
	var complete [][]byte
	for {
		payload, n, err := comando.NextFrame(p.out)
		if n == 0 {
			break
		}
		p.out = p.out[n:]
		if err != nil {
			continue
		}
		payload = append([]byte(nil), payload...)
		p.frames = append(p.frames, payload)
		complete = append(complete, payload)
	}
	fn := p.onFrame
	p.mu.Unlock()

	if fn != nil {
		for _, f := range complete {
			fn(f)
		}
	}
	return len(b), nil
}

func (p *Port) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}
