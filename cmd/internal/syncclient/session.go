package syncclient

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	syncv1 "duo/shared/contracts/sync/v1"
)

// Failure is an action the server rejected. It stays until Retry or Dismiss, or until a read shows the
// server stored it after all.
type Failure struct {
	Action Queued
	Error  string
}

// Session is one signed-in client: it owns the tracker, scheduler, queue and timelines and drives the
// poll loop.
type Session struct {
	transport Transport
	cursors   CursorStore
	tracker   *ActivityTracker
	sched     *SyncScheduler
	queue     *ActionQueue
	me        syncv1.UserRef
	log       *slog.Logger
	now       func() time.Time
	interval  time.Duration
	maxDelay  time.Duration

	// flight keeps round trips one at a time.
	flight sync.Mutex

	mu        sync.Mutex
	timelines map[string]*Timeline
	failures  map[string]Failure

	stop      chan struct{}
	closeOnce sync.Once
}

type SessionOption func(*Session)

func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(log *slog.Logger) SessionOption {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// WithPollInterval overrides the tick period.
func WithPollInterval(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithMaxBackoff caps how long Run waits between ticks after consecutive transport failures.
func WithMaxBackoff(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.maxDelay = d
		}
	}
}

// NewSession builds a session for me. cursors is owned by the session and closed by Close.
func NewSession(transport Transport, cursors CursorStore, me syncv1.UserRef, opts ...SessionOption) *Session {
	s := &Session{
		transport: transport,
		cursors:   cursors,
		me:        me,
		log:       slog.Default(),
		now:       time.Now,
		interval:  PollInterval,
		maxDelay:  time.Minute,
		timelines: make(map[string]*Timeline),
		failures:  make(map[string]Failure),
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cursors == nil {
		s.cursors = NewMemoryCursorStore()
	}
	s.queue = NewActionQueue()
	s.tracker = NewActivityTracker(WithTrackerClock(s.now))
	s.sched = NewSyncScheduler(s.cursors, s.queue, WithSchedulerClock(s.now), WithSchedulerLogger(s.log))
	return s
}

func (s *Session) Tracker() *ActivityTracker  { return s.tracker }
func (s *Session) Scheduler() *SyncScheduler { return s.sched }

func (s *Session) closed() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// Open loads the newest page of chatID and marks it active. Opening an open conversation only marks it.
func (s *Session) Open(ctx context.Context, chatID string) error {
	if s.closed() {
		return ErrClosed
	}
	s.tracker.MarkActive(chatID)

	s.mu.Lock()
	_, ok := s.timelines[chatID]
	s.mu.Unlock()
	if ok {
		return nil
	}

	page, err := s.transport.Page(ctx, chatID, 0, syncv1.PageCap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timelines[chatID]; ok {
		return nil
	}
	tl := NewTimeline()
	tl.Merge(page.Messages)
	tl.hasMore = page.HasMore
	s.timelines[chatID] = tl
	s.settleLocked(page.Messages)

	// A cursor behind the page would replay history the timeline already holds.
	if n := len(page.Messages); n > 0 {
		newest := page.Messages[n-1]
		if s.sched.State(chatID).LastMessageID < newest.ID {
			s.sched.SetLastMessageID(chatID, newest.ID)
			if err := s.sched.MarkSynced(chatID, syncv1.TimeToMillis(newest.CreatedAt)-1); err != nil {
				s.log.Warn("client.cursor.save.fail", "conversation_id", chatID, "err", err)
			}
		}
	}
	return nil
}

// Leave stops polling chatID. Its timeline is kept.
func (s *Session) Leave(chatID string) { s.tracker.Remove(chatID) }

func (s *Session) Interact()              { s.tracker.Interact() }
func (s *Session) SetVisible(visible bool) { s.tracker.SetVisible(visible) }

// Messages returns the timeline of chatID, oldest first.
func (s *Session) Messages(chatID string) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tl, ok := s.timelines[chatID]; ok {
		return tl.Items()
	}
	return nil
}

// HasMore reports whether older history can be loaded for chatID.
func (s *Session) HasMore(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	tl, ok := s.timelines[chatID]
	return ok && tl.hasMore
}

// Failures lists rejected actions in no particular order.
func (s *Session) Failures() []Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Failure, 0, len(s.failures))
	for _, f := range s.failures {
		out = append(out, f)
	}
	return out
}

// Send queues a message, shows it at once and flushes. The returned id correlates the action.
func (s *Session) Send(ctx context.Context, chatID, content string) (string, error) {
	return s.post(ctx, chatID, syncv1.SendOp{ConversationID: chatID, Content: content})
}

// Reply is Send with a reply target from the same conversation.
func (s *Session) Reply(ctx context.Context, chatID, replyTo, content string) (string, error) {
	return s.post(ctx, chatID, syncv1.ReplyOp{ConversationID: chatID, Content: content, ReplyTo: replyTo})
}

func (s *Session) React(ctx context.Context, chatID, messageID, emoji string) (string, error) {
	return s.submit(ctx, chatID, syncv1.ReactOp{MessageID: messageID, Emoji: emoji})
}

func (s *Session) Edit(ctx context.Context, chatID, messageID, content string) (string, error) {
	return s.submit(ctx, chatID, syncv1.EditOp{MessageID: messageID, Content: content})
}

func (s *Session) Delete(ctx context.Context, chatID, messageID string) (string, error) {
	return s.submit(ctx, chatID, syncv1.DeleteOp{MessageID: messageID})
}

func (s *Session) post(ctx context.Context, chatID string, op syncv1.Op) (string, error) {
	if s.closed() {
		return "", ErrClosed
	}
	q, err := s.queue.Enqueue(chatID, op)
	if err != nil {
		return "", err
	}

	now := s.now().UTC()
	msg := syncv1.Message{
		ConversationID: chatID,
		Sender:         s.me,
		MessageType:    syncv1.MessageTypeText,
		Reactions:      []syncv1.Reaction{},
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}
	s.mu.Lock()
	tl := s.timelineLocked(chatID)
	switch o := op.(type) {
	case syncv1.SendOp:
		msg.Content = syncv1.NormalizeContent(o.Content)
	case syncv1.ReplyOp:
		msg.Content = syncv1.NormalizeContent(o.Content)
		msg.ReplyTo = &syncv1.ReplyRef{ID: o.ReplyTo}
		if i := tl.indexOf(o.ReplyTo); i >= 0 {
			target := tl.items[i]
			msg.ReplyTo.Content = target.Content
			msg.ReplyTo.Sender = &target.Sender
		}
	}
	tl.AddPending(q.ID, msg)
	s.mu.Unlock()

	s.tracker.MarkActive(chatID)
	s.flushQuietly(ctx)
	return q.ID, nil
}

func (s *Session) submit(ctx context.Context, chatID string, op syncv1.Op) (string, error) {
	if s.closed() {
		return "", ErrClosed
	}
	q, err := s.queue.Enqueue(chatID, op)
	if err != nil {
		return "", err
	}
	s.tracker.MarkActive(chatID)
	s.flushQuietly(ctx)
	return q.ID, nil
}

func (s *Session) timelineLocked(chatID string) *Timeline {
	tl, ok := s.timelines[chatID]
	if !ok {
		tl = NewTimeline()
		s.timelines[chatID] = tl
	}
	return tl
}

// flushQuietly sends queued actions now. A failed round trip leaves them queued for the next tick.
func (s *Session) flushQuietly(ctx context.Context) {
	if err := s.Flush(ctx); err != nil {
		s.log.Warn("client.flush.fail", "queued", s.queue.Len(), "err", err)
	}
}

// Retry re-queues a rejected action under a new correlation id, so the server does not replay the
// cached rejection.
func (s *Session) Retry(ctx context.Context, clientActionID string) (string, error) {
	if s.closed() {
		return "", ErrClosed
	}
	s.mu.Lock()
	f, ok := s.failures[clientActionID]
	if !ok {
		s.mu.Unlock()
		return "", ErrUnknownAction
	}
	q, err := s.queue.Enqueue(f.Action.ConversationID, f.Action.Op)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	delete(s.failures, clientActionID)
	if tl, ok := s.timelines[f.Action.ConversationID]; ok {
		tl.Rekey(clientActionID, q.ID)
	}
	s.mu.Unlock()

	s.flushQuietly(ctx)
	return q.ID, nil
}

// Dismiss forgets a rejected action and its local entry.
func (s *Session) Dismiss(clientActionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.failures[clientActionID]
	if !ok {
		return ErrUnknownAction
	}
	delete(s.failures, clientActionID)
	if tl, ok := s.timelines[f.Action.ConversationID]; ok {
		tl.Drop(clientActionID)
	}
	return nil
}

// LoadOlder fetches the page before the oldest held message. It returns how many messages were added;
// zero without a request when there is no more history or a fetch is already running.
func (s *Session) LoadOlder(ctx context.Context, chatID string) (int, error) {
	s.mu.Lock()
	tl, ok := s.timelines[chatID]
	if !ok {
		s.mu.Unlock()
		return 0, ErrNotOpen
	}
	if !tl.hasMore || tl.loadingOlder {
		s.mu.Unlock()
		return 0, nil
	}
	tl.loadingOlder = true
	offset := tl.Confirmed()
	s.mu.Unlock()

	page, err := s.transport.Page(ctx, chatID, offset, syncv1.PageCap)

	s.mu.Lock()
	defer s.mu.Unlock()
	tl.loadingOlder = false
	if err != nil {
		return 0, err
	}
	tl.hasMore = page.HasMore
	n := tl.Merge(page.Messages)
	s.settleLocked(page.Messages)
	return n, nil
}

// settleLocked forgets failures whose message the server turns out to hold. Merge has already replaced
// the failed entry; retrying it under a new id would store the message twice.
func (s *Session) settleLocked(msgs []syncv1.Message) {
	for _, m := range msgs {
		if m.ClientActionID == "" {
			continue
		}
		if _, ok := s.failures[m.ClientActionID]; ok {
			delete(s.failures, m.ClientActionID)
			s.log.Info("client.action.settled", "client_action_id", m.ClientActionID, "message_id", m.ID)
		}
	}
}

// Tick runs one poll round.
func (s *Session) Tick(ctx context.Context) error { return s.roundTrip(ctx) }

// Flush sends queued actions without waiting for the next tick. Due reads ride along.
func (s *Session) Flush(ctx context.Context) error { return s.roundTrip(ctx) }

func (s *Session) roundTrip(ctx context.Context) error {
	if s.closed() {
		return ErrClosed
	}
	s.flight.Lock()
	defer s.flight.Unlock()

	queued := s.queue.Snapshot()
	reads := s.dueReads()
	if len(queued) == 0 && len(reads) == 0 {
		return nil
	}

	req := syncv1.BatchRequest{Reads: reads, Actions: make([]syncv1.Action, 0, len(queued))}
	for _, q := range queued {
		req.Actions = append(req.Actions, q.wire())
	}
	resp, err := s.transport.Batch(ctx, req)
	if err != nil {
		return err
	}
	s.apply(queued, resp)
	return nil
}

func (s *Session) dueReads() []syncv1.ReadCursor {
	active := s.tracker.Active()
	slices.Sort(active)

	s.mu.Lock()
	open := make(map[string]bool, len(active))
	for _, id := range active {
		_, open[id] = s.timelines[id]
	}
	s.mu.Unlock()

	reads := make([]syncv1.ReadCursor, 0, len(active))
	for _, id := range active {
		if !open[id] || !s.sched.ShouldSync(id) {
			continue
		}
		c := s.sched.State(id)
		reads = append(reads, syncv1.ReadCursor{ConversationID: id, LastSync: c.LastSync, LastMessageID: c.LastMessageID})
	}
	return reads
}

// apply folds one response in. Action results go first so reads never resurrect a deleted message.
// Only a response carries results; a failed round trip leaves every action queued under its id.
func (s *Session) apply(queued []Queued, resp syncv1.BatchResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, q := range queued {
		res, ok := resp.ActionResults[q.ID]
		if !ok {
			continue
		}
		s.queue.Take(q.ID)
		tl := s.timelines[q.ConversationID]

		if !res.Success {
			s.failures[q.ID] = Failure{Action: q, Error: res.Error}
			if tl != nil {
				tl.Fail(q.ID, res.Error)
			}
			s.log.Warn("client.action.fail", "client_action_id", q.ID, "type", q.Op.Kind(), "err", res.Error)
			continue
		}
		if tl == nil {
			continue
		}
		switch o := q.Op.(type) {
		case syncv1.SendOp, syncv1.ReplyOp:
			if res.Message != nil {
				tl.Confirm(q.ID, *res.Message)
			}
		case syncv1.ReactOp:
			if res.Message != nil {
				tl.SetReactions(*res.Message)
			}
		case syncv1.EditOp:
			if res.Message != nil {
				tl.SetContent(*res.Message)
			}
		case syncv1.DeleteOp:
			tl.Remove(o.MessageID)
		case syncv1.MarkReadOp, syncv1.BatchMarkSeenOp:
		}
	}

	for id, up := range resp.Updates {
		if up.Error != "" {
			s.log.Warn("client.read.fail", "conversation_id", id, "err", up.Error)
			continue
		}
		tl, ok := s.timelines[id]
		if !ok {
			continue
		}
		tl.Merge(up.Messages)
		s.settleLocked(up.Messages)
		if err := s.sched.Advance(id, up); err != nil {
			s.log.Warn("client.cursor.save.fail", "conversation_id", id, "err", err)
		}
	}
}

// Run ticks every poll interval until ctx is done or Close is called. After a failed round trip the
// next ticks are skipped with exponential backoff; queued actions wait and keep their ids.
func (s *Session) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.interval
	bo.MaxInterval = s.maxDelay
	bo.MaxElapsedTime = 0
	bo.Reset()

	var notBefore time.Time
	tick := func() {
		now := time.Now()
		if now.Before(notBefore) {
			return
		}
		if err := s.Tick(ctx); err != nil {
			if ctx.Err() != nil || s.closed() {
				return
			}
			wait := bo.NextBackOff()
			notBefore = now.Add(wait)
			s.log.Warn("client.tick.fail", "err", err, "retry_in", wait, "queued", s.queue.Len())
			return
		}
		bo.Reset()
		notBefore = time.Time{}
	}

	tick()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return ErrClosed
		case <-ticker.C:
			tick()
		}
	}
}

// Close stops Run, forgets activity and closes the cursor store.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		s.flight.Lock()
		defer s.flight.Unlock()
		s.tracker.Reset()
		s.queue.Clear()
		err = s.cursors.Close()
	})
	return err
}
