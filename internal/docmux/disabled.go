package docmux

import (
	"context"
	"net/http"
	"sync"
)

// DisabledDocMux is a Mux with no feed behind it, used when no TCP source is
// configured. Subscriber channels are tracked so they close deterministically
// on Unsubscribe or Close.
type DisabledDocMux struct {
	mu          sync.Mutex
	subscribers map[string]chan string
	closing     bool
}

func NewDisabled() *DisabledDocMux {
	return &DisabledDocMux{subscribers: make(map[string]chan string)}
}

func (d *DisabledDocMux) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		close(ch)
		return id, ch
	}
	d.subscribers[id] = ch
	return id, ch
}

func (d *DisabledDocMux) SubscribeLossless() (string, chan string) { return d.Subscribe() }

func (d *DisabledDocMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
}

func (d *DisabledDocMux) Send(string) error { return nil }

func (d *DisabledDocMux) Monitor(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

func (d *DisabledDocMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return nil
	}
	d.closing = true
	for id, ch := range d.subscribers {
		close(ch)
		delete(d.subscribers, id)
	}
	return nil
}

func (d *DisabledDocMux) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/docmux-disabled", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("document feed disabled"))
	})
}
