package feed

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/nsls2/ariadne/internal/bluesky"
	"github.com/nsls2/ariadne/internal/docmux"
)

// Submitter accepts envelopes. *Sequencer implements it.
type Submitter interface {
	Submit(ctx context.Context, env Envelope) error
}

// Source produces documents until its input ends or ctx is cancelled.
type Source interface {
	Name() string
	Run(ctx context.Context, sink Submitter) error
}

// submitPayload decodes one payload and submits it. Payloads that fail to
// decode are logged and counted, not returned.
func submitPayload(ctx context.Context, sink Submitter, view, source string, codec bluesky.Codec, payload []byte) error {
	name, doc, err := bluesky.Decode(codec, payload)
	if err != nil {
		routeErrors.Add(source, 1)
		logf("%s: %v", source, err)
		return nil
	}
	return sink.Submit(ctx, Envelope{View: view, Source: source, Name: name, Doc: doc})
}

// MuxSource reads JSON [name, document] lines from a document feed.
type MuxSource struct {
	Mux  docmux.Mux
	View string
	Tag  string
}

func (m *MuxSource) Name() string { return m.Tag }

// Run monitors the feed and submits every line until the feed ends.
func (m *MuxSource) Run(ctx context.Context, sink Submitter) error {
	ctx, cancel := context.WithCancel(ctx)
	id, lines := m.Mux.SubscribeLossless()
	// Cancel first: Monitor may be blocked delivering to lines.
	defer func() {
		cancel()
		m.Mux.Unsubscribe(id)
	}()

	monitorErr := make(chan error, 1)
	go func() {
		err := m.Mux.Monitor(ctx)
		// Unblock the range below once the feed is exhausted.
		m.Mux.Unsubscribe(id)
		monitorErr <- err
	}()

	for line := range lines {
		if err := submitPayload(ctx, sink, m.View, m.Tag, bluesky.CodecJSON, []byte(line)); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
	err := <-monitorErr
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RedisSource subscribes to redis pub/sub channels carrying encoded
// [name, document] messages.
type RedisSource struct {
	Client   *redis.Client
	Channels []string
	Codec    bluesky.Codec
	View     string
	Tag      string
}

// NewRedisSource connects to the server at url ("redis://host:port/db").
func NewRedisSource(ctx context.Context, url string, channels []string, codec bluesky.Codec) (*RedisSource, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("redis source: no channels")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisSource{
		Client:   client,
		Channels: channels,
		Codec:    codec,
		View:     ViewLive,
		Tag:      "redis:" + opts.Addr,
	}, nil
}

func (r *RedisSource) Name() string { return r.Tag }

// Run forwards messages until ctx is cancelled.
func (r *RedisSource) Run(ctx context.Context, sink Submitter) error {
	pubsub := r.Client.Subscribe(ctx, r.Channels...)
	defer pubsub.Close()
	// Wait for the subscription to be confirmed so no message published
	// after Run starts is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %v: %w", r.Channels, err)
	}
	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := submitPayload(ctx, sink, r.View, r.Tag+"/"+msg.Channel, r.Codec, []byte(msg.Payload)); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
		}
	}
}

// Close releases the redis connection pool.
func (r *RedisSource) Close() error { return r.Client.Close() }

// ReplaySource routes the documents of previously recorded runs, stored as
// JSONL files of [name, document] lines, to the replay view.
type ReplaySource struct {
	Patterns []string
	View     string
}

func (r *ReplaySource) Name() string { return "replay" }

// Files expands the glob patterns into a sorted, de-duplicated list.
func (r *ReplaySource) Files() ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range r.Patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("replay pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// Run submits every file in order and returns when all have been read.
func (r *ReplaySource) Run(ctx context.Context, sink Submitter) error {
	view := r.View
	if view == "" {
		view = ViewReplay
	}
	files, err := r.Files()
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := r.replayFile(ctx, sink, view, path); err != nil {
			return err
		}
	}
	logf("replay: %d file(s) submitted", len(files))
	return nil
}

func (r *ReplaySource) replayFile(ctx context.Context, sink Submitter, view, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	defer f.Close()

	scan := bufio.NewScanner(f)
	scan.Buffer(make([]byte, 64*1024), docmux.MaxLineBytes)
	source := "replay:" + filepath.Base(path)
	for scan.Scan() {
		if len(scan.Bytes()) == 0 {
			continue
		}
		// The decoder may keep references into its input; the scanner
		// reuses its buffer.
		line := append([]byte(nil), scan.Bytes()...)
		if err := submitPayload(ctx, sink, view, source, bluesky.CodecJSON, line); err != nil {
			return err
		}
	}
	if err := scan.Err(); err != nil {
		return fmt.Errorf("replay %s: %w", path, err)
	}
	return nil
}
