package docmux

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func recv(t *testing.T, ch chan string) string {
	t.Helper()
	select {
	case line, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for line")
	}
	return ""
}

func TestMonitorFansOutLines(t *testing.T) {
	m, port := NewMock("test", `["start",{"uid":"a"}]`, "", `["stop",{"run_start":"a"}]`)
	_, lossy := m.Subscribe()
	_, lossless := m.SubscribeLossless()

	done := make(chan error, 1)
	go func() { done <- m.Monitor(context.Background()) }()

	for _, ch := range []chan string{lossy, lossless} {
		if got := recv(t, ch); got != `["start",{"uid":"a"}]` {
			t.Errorf("first line = %q", got)
		}
		if got := recv(t, ch); got != `["stop",{"run_start":"a"}]` {
			t.Errorf("second line = %q (blank lines should be skipped)", got)
		}
	}

	port.EOF()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Monitor returned %v at EOF, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return at EOF")
	}
}

func TestMonitorDropsForFullLossySubscriber(t *testing.T) {
	var lines []string
	for i := 0; i < SubscriberBuffer+5; i++ {
		lines = append(lines, "{}")
	}
	m, port := NewMock("drop", lines...)
	port.EOF()
	_, lossy := m.Subscribe()

	before := linesDropped.Value()
	if err := m.Monitor(context.Background()); err != nil {
		t.Fatalf("Monitor failed: %v", err)
	}
	if got := len(lossy); got != SubscriberBuffer {
		t.Errorf("buffered %d lines, want %d", got, SubscriberBuffer)
	}
	if got := linesDropped.Value() - before; got != 5 {
		t.Errorf("dropped %d lines, want 5", got)
	}
}

func TestMonitorCancellation(t *testing.T) {
	m, _ := NewMock("cancel")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Monitor(ctx) }()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor ignored cancellation")
	}
}

func TestCloseClosesSubscribers(t *testing.T) {
	m, port := NewMock("close")
	_, ch := m.Subscribe()
	id, ch2 := m.SubscribeLossless()

	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("subscriber channel still open")
	}
	if _, ok := <-ch2; ok {
		t.Error("lossless subscriber channel still open")
	}
	m.Unsubscribe(id)
	if err := m.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if _, err := port.Write([]byte("x")); err == nil {
		t.Error("port still writable after Close")
	}
	if err := m.Monitor(context.Background()); err != nil {
		t.Errorf("Monitor after Close = %v, want nil", err)
	}
}

func TestSend(t *testing.T) {
	m, port := NewMock("send")
	if err := m.Send(`{"replay":"a"}`); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := m.Send("ping\n"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got := port.Written(); got != "{\"replay\":\"a\"}\nping\n" {
		t.Errorf("written = %q", got)
	}

	port.ShortWrite = true
	if err := m.Send("x"); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("short write err = %v, want ErrWriteFailed", err)
	}
	port.ShortWrite = false

	boom := errors.New("boom")
	port.WriteError = boom
	if err := m.Send("x"); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestDial(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte(`["start",{"uid":"tcp"}]` + "\n"))
		// wait for the client's request line before hanging up
		bufio.NewReader(conn).ReadString('\n')
	}()

	m, err := Dial(context.Background(), "tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer m.Close()
	_, ch := m.SubscribeLossless()
	go m.Monitor(context.Background())

	if got := recv(t, ch); got != `["start",{"uid":"tcp"}]` {
		t.Errorf("line = %q", got)
	}
	if err := m.Send("bye"); err != nil {
		t.Errorf("Send failed: %v", err)
	}

	if _, err := Dial(context.Background(), "bad", "127.0.0.1:1"); err == nil {
		t.Error("Dial to a closed port succeeded")
	}
}

func TestDisabledDocMux(t *testing.T) {
	d := NewDisabled()
	id, ch := d.Subscribe()
	d.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("channel open after Unsubscribe")
	}
	_, ch = d.SubscribeLossless()
	if err := d.Send("x"); err != nil {
		t.Errorf("Send = %v", err)
	}
	d.Close()
	if _, ok := <-ch; ok {
		t.Error("channel open after Close")
	}
	_, ch = d.Subscribe()
	if _, ok := <-ch; ok {
		t.Error("Subscribe after Close returned an open channel")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Monitor(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Monitor = %v", err)
	}

	mux := http.NewServeMux()
	d.AttachAdminRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/docmux-disabled", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "disabled") {
		t.Errorf("disabled route = %d %q", rec.Code, rec.Body.String())
	}
}

func localRequest(method, target string, body *strings.Reader) *http.Request {
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, body)
	}
	req.RemoteAddr = "127.0.0.1:50000"
	return req
}

func TestAdminRoutes(t *testing.T) {
	m, port := NewMock("beamline")
	mux := http.NewServeMux()
	m.AttachAdminRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, localRequest(http.MethodGet, "/debug/docmux/beamline/", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "/debug/docmux/beamline/tail") {
		t.Errorf("tail page = %d", rec.Code)
	}

	form := url.Values{"line": {`{"hello":1}`}}
	req := localRequest(http.MethodPost, "/debug/docmux/beamline/send", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("send = %d %s", rec.Code, rec.Body.String())
	}
	if got := port.Written(); got != "{\"hello\":1}\n" {
		t.Errorf("written = %q", got)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, localRequest(http.MethodGet, "/debug/docmux/beamline/send", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET send = %d", rec.Code)
	}

	// The SSE stream ends when its subscriber channel is closed.
	rec = httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		mux.ServeHTTP(rec, localRequest(http.MethodGet, "/debug/docmux/beamline/tail", nil))
	}()
	time.Sleep(50 * time.Millisecond)
	m.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tail handler did not return after Close")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
}
