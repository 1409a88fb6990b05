package serialmux

import (
	"bytes"
	"errors"
	"sync"
)

// ErrPortClosed is returned by FakeBridge after Close.
var ErrPortClosed = errors.New("serial port closed")

// FakeBridge is an in-memory SerialPorter standing in for a USB serial
// bridge. Reads block until Feed supplies data or the port is closed.
type FakeBridge struct {
	mu      sync.Mutex
	cond    *sync.Cond
	in, out bytes.Buffer
	closed  bool

	// ReadErr and WriteErr fail the next Read or Write once.
	ReadErr  error
	WriteErr error
}

// NewFakeBridge returns an open bridge with nothing to read.
func NewFakeBridge() *FakeBridge {
	b := &FakeBridge{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Feed queues device output, e.g. "0.1,0.2\n".
func (b *FakeBridge) Feed(data string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.in.WriteString(data)
	b.cond.Broadcast()
}

// Written returns everything sent to the device so far.
func (b *FakeBridge) Written() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.out.String()
}

// IsClosed reports whether Close has been called.
func (b *FakeBridge) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *FakeBridge) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ReadErr; err != nil {
		b.ReadErr = nil
		return 0, err
	}
	for !b.closed && b.in.Len() == 0 {
		b.cond.Wait()
	}
	if b.closed {
		return 0, ErrPortClosed
	}
	return b.in.Read(p)
}

func (b *FakeBridge) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrPortClosed
	}
	if err := b.WriteErr; err != nil {
		b.WriteErr = nil
		return 0, err
	}
	return b.out.Write(p)
}

func (b *FakeBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
	return nil
}
