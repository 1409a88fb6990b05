// Package serialmux multiplexes a line-oriented serial device. Many
// subscribers receive every line the device emits (EMG sample lines from an
// armband bridge) while commands (pointer moves for a HID bridge) are
// serialised onto the single port.
package serialmux

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrShortWrite is returned when the port accepts only part of a command.
var ErrShortWrite = errors.New("short write to serial port")

// SubscriberBuffer is the per-subscriber line backlog. Lines beyond it are
// dropped for that subscriber only.
const SubscriberBuffer = 256

// maxLineBytes bounds one device line; longer lines end Monitor with
// bufio.ErrTooLong.
const maxLineBytes = 64 * 1024

// SerialMuxInterface is what the daemon needs from a serial device, real or
// disabled.
type SerialMuxInterface interface {
	// Subscribe returns an id and a channel receiving every line read.
	Subscribe() (string, chan string)
	// Unsubscribe closes and forgets a subscription.
	Unsubscribe(string)
	// SendCommand writes one newline-terminated command.
	SendCommand(string) error
	// Monitor reads lines until ctx ends or the port fails.
	Monitor(context.Context) error
	// Close ends every subscription and closes the port.
	Close() error
	// Initialize sends a start-up command sequence to the device.
	Initialize(commands ...string) error
	// AttachAdminRoutes mounts the /debug/ pages for the device.
	AttachAdminRoutes(*http.ServeMux)
}

// SerialMux fans the lines of one port out to subscribers.
type SerialMux[T SerialPorter] struct {
	port T

	subMu       sync.Mutex
	subscribers map[string]chan string

	writeMu sync.Mutex
	closing atomic.Bool

	lines   atomic.Int64
	dropped atomic.Int64
}

// NewSerialMux wraps an open port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{port: port, subscribers: make(map[string]chan string)}
}

func newSubscriberID() string {
	var b [8]byte
	crand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id, ch := newSubscriberID(), make(chan string, SubscriberBuffer)
	s.subMu.Lock()
	s.subscribers[id] = ch
	s.subMu.Unlock()
	return id, ch
}

// Unsubscribe is a no-op for unknown ids.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		delete(s.subscribers, id)
		close(ch)
	}
}

// Subscribers returns the number of live subscriptions.
func (s *SerialMux[T]) Subscribers() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subscribers)
}

// Initialize writes each command in order, stopping at the first failure.
func (s *SerialMux[T]) Initialize(commands ...string) error {
	for _, c := range commands {
		if err := s.SendCommand(c); err != nil {
			return fmt.Errorf("failed to send start command %q: %w", c, err)
		}
	}
	return nil
}

// Stats returns the number of lines read and the number of per-subscriber
// deliveries dropped because a subscriber was full.
func (s *SerialMux[T]) Stats() (lines, dropped int64) {
	return s.lines.Load(), s.dropped.Load()
}

// SendCommand appends a newline when missing and writes the command whole.
func (s *SerialMux[T]) SendCommand(command string) error {
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrShortWrite
	}
	return nil
}

// Monitor reads lines until ctx is cancelled, the port reaches EOF (nil) or
// a read fails. Trailing carriage returns are stripped.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	// Scan blocks in Read, so it runs apart from the loop that watches ctx.
	go func() {
		defer close(lines)
		scan := bufio.NewScanner(s.port)
		scan.Buffer(make([]byte, 4096), maxLineBytes)
		for scan.Scan() {
			select {
			case lines <- strings.TrimSuffix(scan.Text(), "\r"):
			case <-ctx.Done():
				return
			}
		}
		readErr <- scan.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if s.closing.Load() {
				return nil
			}
			s.broadcast(line)
		}
	}
}

func (s *SerialMux[T]) broadcast(line string) {
	s.lines.Add(1)
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
			s.dropped.Add(1)
		}
	}
}

func (s *SerialMux[T]) Close() error {
	s.closing.Store(true)
	s.subMu.Lock()
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
	s.subMu.Unlock()
	return s.port.Close()
}
