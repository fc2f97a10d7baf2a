package syncclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"duo/cmd/identity"
	"duo/cmd/internal/chat"
	"duo/cmd/internal/reconcile"
	syncv1 "duo/shared/contracts/sync/v1"
)

type directory map[string]identity.User

func (d directory) Users(_ context.Context, ids []string) (map[string]identity.User, error) {
	out := make(map[string]identity.User, len(ids))
	for _, id := range ids {
		if u, ok := d[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

type server struct {
	clock *manualClock
	chats *chat.Service
	rec   *reconcile.Reconciler
	chat  chat.Chat
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newServer(t *testing.T) *server {
	t.Helper()
	clock := newManualClock()
	dir := directory{
		"alice": {ID: "alice", Username: "Alice"},
		"bob":   {ID: "bob", Username: "Bob"},
	}
	svc := chat.NewService(chat.NewMemoryStore(), dir, chat.WithClock(clock.Now))
	c, _, err := svc.Open(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("Open(): %v", err)
	}
	rec := reconcile.New(svc, reconcile.WithClock(clock.Now), reconcile.WithLogger(quiet()))
	return &server{clock: clock, chats: svc, rec: rec, chat: c}
}

func (s *server) post(t *testing.T, from, content string) syncv1.Message {
	t.Helper()
	m, err := s.chats.Send(context.Background(), from, chat.SendInput{ChatID: s.chat.ID, Content: content})
	if err != nil {
		t.Fatalf("Send(): %v", err)
	}
	return m
}

var errOffline = errors.New("offline")

// loopback calls the reconciler in process as one user.
type loopback struct {
	srv  *server
	user string

	mu          sync.Mutex
	offline     bool
	failActions bool
	// lostResults applies actions but answers them with a rejection, as when the response was
	// produced after the store had already committed.
	lostResults bool
	batches     int
	pages       int
}

func (l *loopback) set(fn func(l *loopback)) {
	l.mu.Lock()
	fn(l)
	l.mu.Unlock()
}

func (l *loopback) Batch(ctx context.Context, req syncv1.BatchRequest) (syncv1.BatchResponse, error) {
	l.mu.Lock()
	offline, failActions, lostResults := l.offline, l.failActions, l.lostResults
	l.batches++
	l.mu.Unlock()
	if offline {
		return syncv1.BatchResponse{}, errOffline
	}
	switch {
	case lostResults:
		resp, err := l.srv.rec.Reconcile(ctx, l.user, req)
		if err != nil {
			return resp, err
		}
		for _, a := range req.Actions {
			resp.ActionResults[a.ClientActionID] = syncv1.ActionResult{Error: "Unauthorized"}
		}
		return resp, nil
	case failActions:
		// Actions are answered with an inline rejection and never reach the store.
		actions := req.Actions
		req.Actions = nil
		resp, err := l.srv.rec.Reconcile(ctx, l.user, req)
		for _, a := range actions {
			resp.ActionResults[a.ClientActionID] = syncv1.ActionResult{Error: "Unauthorized"}
		}
		return resp, err
	default:
		return l.srv.rec.Reconcile(ctx, l.user, req)
	}
}

var errStorage = errors.New("storage unavailable")

// faultyChats fails the next failSends sends. With afterCommit the send is stored before the error.
type faultyChats struct {
	reconcile.Chats
	mu          sync.Mutex
	failSends   int
	afterCommit bool
}

func (c *faultyChats) Send(ctx context.Context, userID string, in chat.SendInput) (syncv1.Message, error) {
	c.mu.Lock()
	fail := c.failSends > 0
	if fail {
		c.failSends--
	}
	afterCommit := c.afterCommit
	c.mu.Unlock()
	if !fail {
		return c.Chats.Send(ctx, userID, in)
	}
	if afterCommit {
		if _, err := c.Chats.Send(ctx, userID, in); err != nil {
			return syncv1.Message{}, err
		}
	}
	return syncv1.Message{}, errStorage
}

// withFaults routes the reconciler through f.
func (s *server) withFaults(f *faultyChats) {
	f.Chats = s.chats
	s.rec = reconcile.New(f, reconcile.WithClock(s.clock.Now), reconcile.WithLogger(quiet()))
}

func (l *loopback) Page(ctx context.Context, chatID string, offset, limit int) (syncv1.MessagePage, error) {
	l.mu.Lock()
	l.pages++
	offline := l.offline
	l.mu.Unlock()
	if offline {
		return syncv1.MessagePage{}, errOffline
	}
	return l.srv.chats.Page(ctx, l.user, chatID, offset, limit)
}

func newSession(t *testing.T, srv *server, user string) (*Session, *loopback) {
	t.Helper()
	lb := &loopback{srv: srv, user: user}
	s := NewSession(lb, NewMemoryCursorStore(), syncv1.UserRef{ID: user, Username: user},
		WithClock(srv.clock.Now), WithLogger(quiet()))
	t.Cleanup(func() { _ = s.Close() })
	return s, lb
}

func countContent(items []Item, content string) int {
	n := 0
	for _, it := range items {
		if it.Content == content {
			n++
		}
	}
	return n
}

func TestSession_SendReachesBothSides(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := newServer(t)
	alice, _ := newSession(t, srv, "alice")
	bob, _ := newSession(t, srv, "bob")

	for _, s := range []*Session{alice, bob} {
		if err := s.Open(ctx, srv.chat.ID); err != nil {
			t.Fatalf("Open(): %v", err)
		}
	}
	if _, err := alice.Send(ctx, srv.chat.ID, "  hi bob  "); err != nil {
		t.Fatalf("Send(): %v", err)
	}

	items := alice.Messages(srv.chat.ID)
	if len(items) != 1 || items[0].ID == "" || items[0].Pending || items[0].Content != "hi bob" {
		t.Fatalf("alice timeline=%+v want one confirmed message", items)
	}

	srv.clock.Advance(5 * time.Second)
	if err := bob.Tick(ctx); err != nil {
		t.Fatalf("Tick(): %v", err)
	}
	got := bob.Messages(srv.chat.ID)
	if len(got) != 1 || got[0].ID != items[0].ID {
		t.Fatalf("bob timeline=%+v", got)
	}

	// A second tick with nothing new must not duplicate.
	srv.clock.Advance(5 * time.Second)
	if err := bob.Tick(ctx); err != nil {
		t.Fatalf("Tick(): %v", err)
	}
	if got := bob.Messages(srv.chat.ID); len(got) != 1 {
		t.Fatalf("bob timeline=%+v after idle tick", got)
	}
}

func TestSession_TransportFailureKeepsActionQueued(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := newServer(t)
	alice, lb := newSession(t, srv, "alice")
	if err := alice.Open(ctx, srv.chat.ID); err != nil {
		t.Fatalf("Open(): %v", err)
	}

	lb.set(func(l *loopback) { l.offline = true })
	id, err := alice.Send(ctx, srv.chat.ID, "later")
	if err != nil {
		t.Fatalf("Send(): %v", err)
	}
	items := alice.Messages(srv.chat.ID)
	if len(items) != 1 || !items[0].Pending || items[0].ClientActionID != id {
		t.Fatalf("timeline=%+v want one pending entry", items)
	}
	if !alice.Scheduler().ShouldSync(srv.chat.ID) {
		t.Fatalf("queued action should make the conversation due")
	}
	if err := alice.Tick(ctx); !errors.Is(err, errOffline) {
		t.Fatalf("Tick() err=%v want offline", err)
	}

	lb.set(func(l *loopback) { l.offline = false })
	if err := alice.Tick(ctx); err != nil {
		t.Fatalf("Tick(): %v", err)
	}
	items = alice.Messages(srv.chat.ID)
	if len(items) != 1 || items[0].Pending || items[0].ID == "" {
		t.Fatalf("timeline=%+v want the confirmed message once", items)
	}
	stored, _ := srv.chats.Since(ctx, "alice", srv.chat.ID, time.Time{}, "")
	if len(stored) != 1 {
		t.Fatalf("server holds %d messages want 1", len(stored))
	}
}

func TestSession_StorageFailureIsRetriedUnderSameID(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name        string
		afterCommit bool
	}{
		{"before commit", false},
		{"after commit", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			srv := newServer(t)
			srv.withFaults(&faultyChats{failSends: 1, afterCommit: tc.afterCommit})
			alice, _ := newSession(t, srv, "alice")
			if err := alice.Open(ctx, srv.chat.ID); err != nil {
				t.Fatalf("Open(): %v", err)
			}

			id, err := alice.Send(ctx, srv.chat.ID, "hi")
			if err != nil {
				t.Fatalf("Send(): %v", err)
			}
			items := alice.Messages(srv.chat.ID)
			if len(items) != 1 || !items[0].Pending || items[0].Failed || items[0].ClientActionID != id {
				t.Fatalf("timeline=%+v want one pending entry", items)
			}
			if n := len(alice.Failures()); n != 0 {
				t.Fatalf("Failures()=%d want 0", n)
			}
			if n := alice.queue.Len(); n != 1 {
				t.Fatalf("queued=%d want 1", n)
			}

			srv.clock.Advance(5 * time.Second)
			if err := alice.Tick(ctx); err != nil {
				t.Fatalf("Tick(): %v", err)
			}
			items = alice.Messages(srv.chat.ID)
			if len(items) != 1 || items[0].Pending || items[0].ID == "" || items[0].ClientActionID != id {
				t.Fatalf("timeline=%+v want the confirmed message once", items)
			}
			if n := alice.queue.Len(); n != 0 {
				t.Fatalf("queued=%d want 0", n)
			}
			stored, _ := srv.chats.Since(ctx, "alice", srv.chat.ID, time.Time{}, "")
			if len(stored) != 1 {
				t.Fatalf("server holds %d messages want 1", len(stored))
			}
		})
	}
}

func TestSession_FailureSettledByRead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := newServer(t)
	alice, lb := newSession(t, srv, "alice")
	if err := alice.Open(ctx, srv.chat.ID); err != nil {
		t.Fatalf("Open(): %v", err)
	}

	lb.set(func(l *loopback) { l.lostResults = true })
	id, err := alice.Send(ctx, srv.chat.ID, "stored anyway")
	if err != nil {
		t.Fatalf("Send(): %v", err)
	}
	lb.set(func(l *loopback) { l.lostResults = false })

	items := alice.Messages(srv.chat.ID)
	if len(items) != 1 || items[0].Failed || items[0].ID == "" {
		t.Fatalf("timeline=%+v want the stored message", items)
	}
	if n := len(alice.Failures()); n != 0 {
		t.Fatalf("Failures()=%d want 0", n)
	}
	if _, err := alice.Retry(ctx, id); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("Retry() err=%v want ErrUnknownAction", err)
	}
	stored, _ := srv.chats.Since(ctx, "alice", srv.chat.ID, time.Time{}, "")
	if len(stored) != 1 {
		t.Fatalf("server holds %d messages want 1", len(stored))
	}
}

func TestSession_RejectedActionRetryAndDismiss(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := newServer(t)
	alice, lb := newSession(t, srv, "alice")
	if err := alice.Open(ctx, srv.chat.ID); err != nil {
		t.Fatalf("Open(): %v", err)
	}

	lb.set(func(l *loopback) { l.failActions = true })
	first, _ := alice.Send(ctx, srv.chat.ID, "retry me")
	second, _ := alice.Send(ctx, srv.chat.ID, "drop me")

	items := alice.Messages(srv.chat.ID)
	if len(items) != 2 || !items[0].Failed || !items[1].Failed {
		t.Fatalf("timeline=%+v want two failed entries", items)
	}
	if n := len(alice.Failures()); n != 2 {
		t.Fatalf("Failures()=%d want 2", n)
	}

	lb.set(func(l *loopback) { l.failActions = false })
	newID, err := alice.Retry(ctx, first)
	if err != nil || newID == first {
		t.Fatalf("Retry()=%q,%v", newID, err)
	}
	if err := alice.Dismiss(second); err != nil {
		t.Fatalf("Dismiss(): %v", err)
	}
	if _, err := alice.Retry(ctx, second); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("Retry(dismissed) err=%v", err)
	}

	items = alice.Messages(srv.chat.ID)
	if len(items) != 1 || items[0].Failed || items[0].ID == "" || items[0].Content != "retry me" {
		t.Fatalf("timeline=%+v want the retried message confirmed", items)
	}
	if n := len(alice.Failures()); n != 0 {
		t.Fatalf("Failures()=%d want 0", n)
	}
}

func TestSession_ReactEditDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := newServer(t)
	first := srv.post(t, "alice", "original")
	srv.post(t, "bob", "answer")
	alice, _ := newSession(t, srv, "alice")
	if err := alice.Open(ctx, srv.chat.ID); err != nil {
		t.Fatalf("Open(): %v", err)
	}

	if _, err := alice.React(ctx, srv.chat.ID, first.ID, "🎉"); err != nil {
		t.Fatalf("React(): %v", err)
	}
	if _, err := alice.Edit(ctx, srv.chat.ID, first.ID, "changed"); err != nil {
		t.Fatalf("Edit(): %v", err)
	}
	items := alice.Messages(srv.chat.ID)
	if items[0].Content != "changed" || items[0].Version != 2 || len(items[0].Reactions) != 1 {
		t.Fatalf("after react+edit=%+v", items[0])
	}

	if _, err := alice.Reply(ctx, srv.chat.ID, first.ID, "see above"); err != nil {
		t.Fatalf("Reply(): %v", err)
	}
	if _, err := alice.Delete(ctx, srv.chat.ID, first.ID); err != nil {
		t.Fatalf("Delete(): %v", err)
	}
	items = alice.Messages(srv.chat.ID)
	if len(items) != 2 || countContent(items, "changed") != 0 {
		t.Fatalf("after delete=%+v", items)
	}
	if r := items[1].ReplyTo; r == nil || !r.Deleted {
		t.Fatalf("reply target=%+v want deleted placeholder", items[1].ReplyTo)
	}

	// Non-author edit is rejected and leaves content alone.
	answer := items[0]
	id, _ := alice.Edit(ctx, srv.chat.ID, answer.ID, "hijack")
	if f := alice.Failures(); len(f) != 1 || f[0].Action.ID != id || f[0].Error != "Unauthorized" {
		t.Fatalf("Failures()=%+v", f)
	}
	if got := alice.Messages(srv.chat.ID)[0].Content; got != "answer" {
		t.Fatalf("content=%q want unchanged", got)
	}
}

func TestSession_CatchesUpPastFullPages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := newServer(t)
	bob, lb := newSession(t, srv, "bob")
	if err := bob.Open(ctx, srv.chat.ID); err != nil {
		t.Fatalf("Open(): %v", err)
	}

	const total = 2*syncv1.PageCap + 5
	for i := range total {
		srv.post(t, "alice", "n"+strconv.Itoa(i))
	}
	for range 4 {
		srv.clock.Advance(5 * time.Second)
		if err := bob.Tick(ctx); err != nil {
			t.Fatalf("Tick(): %v", err)
		}
	}

	items := bob.Messages(srv.chat.ID)
	if len(items) != total {
		t.Fatalf("messages=%d want %d (batches=%d)", len(items), total, lb.batches)
	}
	assertOrdered(t, items)
	for i, it := range items {
		if it.Content != "n"+strconv.Itoa(i) {
			t.Fatalf("item %d=%q", i, it.Content)
		}
	}
}

func TestSession_LoadOlder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := newServer(t)
	const total = 70
	for i := range total {
		srv.post(t, "alice", "h"+strconv.Itoa(i))
	}
	bob, lb := newSession(t, srv, "bob")
	if err := bob.Open(ctx, srv.chat.ID); err != nil {
		t.Fatalf("Open(): %v", err)
	}
	if n := len(bob.Messages(srv.chat.ID)); n != syncv1.PageCap {
		t.Fatalf("initial page=%d want %d", n, syncv1.PageCap)
	}

	wantAdded := []int{30, 10}
	for _, want := range wantAdded {
		n, err := bob.LoadOlder(ctx, srv.chat.ID)
		if err != nil || n != want {
			t.Fatalf("LoadOlder()=%d,%v want %d", n, err, want)
		}
	}
	if bob.HasMore(srv.chat.ID) {
		t.Fatalf("HasMore() after the first message was loaded")
	}

	pages := lb.pages
	if n, err := bob.LoadOlder(ctx, srv.chat.ID); n != 0 || err != nil || lb.pages != pages {
		t.Fatalf("LoadOlder() past the start=%d,%v pages=%d->%d", n, err, pages, lb.pages)
	}
	items := bob.Messages(srv.chat.ID)
	if len(items) != total || items[0].Content != "h0" {
		t.Fatalf("history=%d first=%q", len(items), items[0].Content)
	}
	assertOrdered(t, items)

	if _, err := bob.LoadOlder(ctx, "unknown"); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("LoadOlder(unknown) err=%v", err)
	}
}

func TestSession_InactiveConversationsAreNotRead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := newServer(t)
	bob, lb := newSession(t, srv, "bob")
	if err := bob.Open(ctx, srv.chat.ID); err != nil {
		t.Fatalf("Open(): %v", err)
	}

	bob.SetVisible(false)
	srv.clock.Advance(5 * time.Second)
	if err := bob.Tick(ctx); err != nil {
		t.Fatalf("Tick(): %v", err)
	}
	if lb.batches != 0 {
		t.Fatalf("hidden session sent %d batches", lb.batches)
	}

	bob.SetVisible(true)
	bob.Interact()
	if err := bob.Tick(ctx); err != nil || lb.batches != 0 {
		t.Fatalf("batches=%d err=%v; visibility alone must not resume polling", lb.batches, err)
	}
	if err := bob.Open(ctx, srv.chat.ID); err != nil {
		t.Fatalf("Open(): %v", err)
	}
	if err := bob.Tick(ctx); err != nil || lb.batches != 1 {
		t.Fatalf("batches=%d err=%v after re-selection", lb.batches, err)
	}
}

// countingTransport answers every call with nothing.
type countingTransport struct {
	mu      sync.Mutex
	batches int
}

func (c *countingTransport) Batch(context.Context, syncv1.BatchRequest) (syncv1.BatchResponse, error) {
	c.mu.Lock()
	c.batches++
	c.mu.Unlock()
	return syncv1.BatchResponse{}, nil
}

func (c *countingTransport) Page(context.Context, string, int, int) (syncv1.MessagePage, error) {
	return syncv1.MessagePage{Messages: []syncv1.Message{}}, nil
}

func (c *countingTransport) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batches
}

func TestSession_RunAndClose(t *testing.T) {
	t.Parallel()
	tr := &countingTransport{}
	cursors := NewMemoryCursorStore()
	s := NewSession(tr, cursors, syncv1.UserRef{ID: "u"}, WithPollInterval(5*time.Millisecond), WithLogger(quiet()))
	if err := s.Open(context.Background(), "c1"); err != nil {
		t.Fatalf("Open(): %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	deadline := time.Now().Add(5 * time.Second)
	for tr.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("Run() made %d round trips", tr.count())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close(): %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("Run() err=%v want ErrClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run() did not stop after Close")
	}

	if _, err := s.Send(context.Background(), "c1", "x"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send() after Close err=%v", err)
	}
	if err := cursors.Save("c1", Cursor{}); !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("cursor store still open: %v", err)
	}
}

func TestSession_RunStopsOnContext(t *testing.T) {
	t.Parallel()
	s := NewSession(&countingTransport{}, nil, syncv1.UserRef{ID: "u"}, WithLogger(quiet()))
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() err=%v want context.Canceled", err)
	}
}
