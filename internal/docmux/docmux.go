// Package docmux multiplexes a line-oriented document feed (one serialized
// document per line) to any number of subscribers, and lets callers write
// request lines back to the feed.
package docmux

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"expvar"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/nsls2/ariadne/internal/monitoring"
)

var ErrWriteFailed = errors.New("failed to write to document feed")

// MaxLineBytes bounds a single document line. Event pages from area
// detectors can be large.
const MaxLineBytes = 16 << 20

// SubscriberBuffer is the channel capacity handed to each subscriber.
const SubscriberBuffer = 1024

var (
	linesRead    = expvar.NewInt("counter_docmux_lines")
	linesDropped = expvar.NewInt("counter_docmux_dropped")
)

var logf = monitoring.Prefixed("docmux")

// Porter is the minimal connection a DocMux reads from and writes to.
type Porter interface {
	io.ReadWriteCloser
}

// Mux is the behaviour shared by DocMux, DisabledDocMux and MockDocMux.
type Mux interface {
	// Subscribe returns a channel of lines. Lines are dropped for this
	// subscriber when its buffer is full.
	Subscribe() (string, chan string)
	// SubscribeLossless returns a channel of lines that Monitor blocks on
	// rather than dropping. The reader must keep draining it until Monitor's
	// context is cancelled.
	SubscribeLossless() (string, chan string)
	Unsubscribe(string)
	// Send writes one request line to the feed.
	Send(string) error
	// Monitor reads lines until the feed ends or ctx is cancelled.
	Monitor(context.Context) error
	Close() error
	// AttachAdminRoutes adds a live tail of the feed under /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

type subscriber struct {
	ch       chan string
	lossless bool
}

// DocMux multiplexes one connection.
type DocMux[T Porter] struct {
	name         string
	port         T
	subscribers  map[string]subscriber
	subscriberMu sync.Mutex
	sendMu       sync.Mutex
	closing      bool
	closingMu    sync.Mutex
}

// New wraps port. name identifies the feed in logs and admin routes.
func New[T Porter](name string, port T) *DocMux[T] {
	return &DocMux[T]{
		name:        name,
		port:        port,
		subscribers: make(map[string]subscriber),
	}
}

// Name returns the feed name.
func (m *DocMux[T]) Name() string { return m.name }

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (m *DocMux[T]) subscribe(lossless bool) (string, chan string) {
	id := randomID()
	ch := make(chan string, SubscriberBuffer)
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if m.isClosing() {
		close(ch)
		return id, ch
	}
	m.subscribers[id] = subscriber{ch: ch, lossless: lossless}
	return id, ch
}

func (m *DocMux[T]) Subscribe() (string, chan string) { return m.subscribe(false) }

func (m *DocMux[T]) SubscribeLossless() (string, chan string) { return m.subscribe(true) }

// Unsubscribe removes a subscriber and closes its channel.
func (m *DocMux[T]) Unsubscribe(id string) {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if sub, ok := m.subscribers[id]; ok {
		close(sub.ch)
		delete(m.subscribers, id)
	}
}

// Send writes line to the feed, appending a newline when missing.
func (m *DocMux[T]) Send(line string) error {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	n, err := m.port.Write([]byte(line))
	if err != nil {
		return err
	}
	if n != len(line) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads lines from the feed and fans them out to subscribers.
func (m *DocMux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(m.port)
	scan.Buffer(make([]byte, 64*1024), MaxLineBytes)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking Scan runs on its own goroutine so the loop below can still
	// observe cancellation.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			if m.isClosing() {
				return nil
			}
			return err

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					if !m.isClosing() {
						return err
					}
				default:
				}
				return nil
			}
			if m.isClosing() {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			linesRead.Add(1)
			if err := m.publish(ctx, line); err != nil {
				return err
			}
		}
	}
}

func (m *DocMux[T]) publish(ctx context.Context, line string) error {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	for id, sub := range m.subscribers {
		if sub.lossless {
			select {
			case sub.ch <- line:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		select {
		case sub.ch <- line:
		default:
			linesDropped.Add(1)
			logf("%s: subscriber %s is full, dropping line", m.name, id)
		}
	}
	return nil
}

func (m *DocMux[T]) isClosing() bool {
	m.closingMu.Lock()
	defer m.closingMu.Unlock()
	return m.closing
}

// Close closes every subscriber channel and then the connection.
func (m *DocMux[T]) Close() error {
	m.closingMu.Lock()
	if m.closing {
		m.closingMu.Unlock()
		return nil
	}
	m.closing = true
	m.closingMu.Unlock()

	m.subscriberMu.Lock()
	for id, sub := range m.subscribers {
		close(sub.ch)
		delete(m.subscribers, id)
	}
	m.subscriberMu.Unlock()
	return m.port.Close()
}
