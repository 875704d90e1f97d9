package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var (
	errFakeClosed = errors.New("conn closed")
	errFakeFull   = errors.New("queue full")
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	events []Event
	closed bool
	full   bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Emit(ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errFakeClosed
	}
	if f.full {
		return errFakeFull
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) got() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Event, len(f.events))
	copy(out, f.events)
	return out
}

func (f *fakeConn) named(name string) []Event {
	var out []Event
	for _, ev := range f.got() {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

type statusWrite struct {
	user   string
	status Status
}

type recordingWriter struct {
	mu     sync.Mutex
	writes []statusWrite
	fail   error
}

func (r *recordingWriter) Name() string { return "recorder" }

func (r *recordingWriter) UpdateStatus(_ context.Context, userID string, st Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, statusWrite{user: userID, status: st})
	return r.fail
}

func (r *recordingWriter) all() []statusWrite {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]statusWrite, len(r.writes))
	copy(out, r.writes)
	return out
}

func (r *recordingWriter) forUser(u string) []Status {
	var out []Status
	for _, w := range r.all() {
		if w.user == u {
			out = append(out, w.status)
		}
	}
	return out
}

func newTestManager(kick bool, writers ...StatusWriter) *Manager {
	return NewManager(Options{
		KickReplaced:  kick,
		StatusWorkers: 4,
		StatusQueue:   1024,
		WriteTimeout:  time.Second,
	}, writers, nil, nil)
}

// drainStatus waits for every queued status write to reach the writers.
func drainStatus(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.status.close(ctx); err != nil {
		t.Fatalf("drain status: %v", err)
	}
}

func connect(t *testing.T, m *Manager, id string) (*fakeConn, *Session) {
	t.Helper()
	c := newFakeConn(id)
	s, err := m.Connect(c)
	if err != nil {
		t.Fatalf("connect %s: %v", id, err)
	}
	return c, s
}
