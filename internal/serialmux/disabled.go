package serialmux

import (
	"context"
	"net/http"
	"sync"

	"github.com/banshee-data/myo.mouse/internal/httputil"
)

// DisabledSerialMux stands in for an absent device, typically the pointer
// bridge when motion should only be logged. Commands are counted and
// discarded and subscribers never receive a line, but their channels are
// still closed on Unsubscribe or Close so readers unblock during shutdown.
type DisabledSerialMux struct {
	mu       sync.Mutex
	subs     map[string]chan string
	closed   bool
	commands int
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{subs: make(map[string]chan string)}
}

func (d *DisabledSerialMux) Subscribe() (string, chan string) {
	id, ch := newSubscriberID(), make(chan string)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		close(ch)
	} else {
		d.subs[id] = ch
	}
	return id, ch
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subs[id]; ok {
		delete(d.subs, id)
		close(ch)
	}
}

func (d *DisabledSerialMux) SendCommand(string) error {
	d.mu.Lock()
	d.commands++
	d.mu.Unlock()
	return nil
}

// Commands returns how many commands were discarded.
func (d *DisabledSerialMux) Commands() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commands
}

func (d *DisabledSerialMux) Monitor(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (d *DisabledSerialMux) Initialize(...string) error { return nil }

// Close is idempotent.
func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	for id, ch := range d.subs {
		delete(d.subs, id)
		close(ch)
	}
	return nil
}

// AttachAdminRoutes reports the discarded command count at
// /debug/serial-disabled.
func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/serial-disabled", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, map[string]any{"disabled": true, "discarded_commands": d.Commands()})
	})
}
