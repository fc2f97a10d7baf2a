package reconcile

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"duo/cmd/internal/chat"
	syncv1 "duo/shared/contracts/sync/v1"
)

// Chats is the chat domain surface a batch is applied to.
type Chats interface {
	Send(ctx context.Context, userID string, in chat.SendInput) (syncv1.Message, error)
	React(ctx context.Context, userID, messageID, emoji string) (syncv1.Message, error)
	Edit(ctx context.Context, userID, messageID, content string) (syncv1.Message, error)
	Delete(ctx context.Context, userID, messageID string) error
	MarkRead(ctx context.Context, userID, messageID string) (syncv1.Message, error)
	MarkSeen(ctx context.Context, userID, chatID string) error
	Since(ctx context.Context, userID, chatID string, since time.Time, afterID string) ([]syncv1.Message, error)
}

const (
	DefaultReadWorkers = 8
	userStripes        = 64
)

// Reconciler applies batches for authenticated users.
type Reconciler struct {
	chats       Chats
	log         *slog.Logger
	metrics     *Metrics
	results     *resultCache
	readWorkers int
	now         func() time.Time

	// Batches of one user apply their actions one at a time, so a retry racing
	// the original cannot apply the same action twice.
	stripes [userStripes]sync.Mutex
}

type Option func(*Reconciler)

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(r *Reconciler) {
		if log != nil {
			r.log = log
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithResultTTL sets how long action results are replayable. Zero disables replay.
func WithResultTTL(ttl time.Duration) Option {
	return func(r *Reconciler) { r.results = newResultCache(ttl) }
}

func WithReadWorkers(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.readWorkers = n
		}
	}
}

func New(chats Chats, opts ...Option) *Reconciler {
	r := &Reconciler{
		chats:       chats,
		log:         slog.Default(),
		results:     newResultCache(DefaultResultTTL),
		readWorkers: DefaultReadWorkers,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// ErrUnavailable reports an action that could not be applied because storage failed. The batch is
// aborted; actions applied before it keep their cached results, so a retry replays them.
var ErrUnavailable = errors.New("reconcile: storage unavailable")

// Reconcile applies req.Actions in order, then computes req.Reads.
// It fails the whole batch on a cancelled ctx or ErrUnavailable; every other outcome is reported inside
// the response.
func (r *Reconciler) Reconcile(ctx context.Context, userID string, req syncv1.BatchRequest) (syncv1.BatchResponse, error) {
	start := time.Now()

	results, err := r.applyAll(ctx, userID, req.Actions)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		r.metrics.batch(batchOutcome(err), -1)
		return syncv1.BatchResponse{}, err
	}

	readAt := r.now()
	updates := r.readAll(ctx, userID, req.Reads, readAt)
	if err := ctx.Err(); err != nil {
		r.metrics.batch("cancelled", -1)
		return syncv1.BatchResponse{}, err
	}

	r.metrics.batch("ok", time.Since(start).Seconds())
	return syncv1.BatchResponse{
		Updates:       updates,
		ActionResults: results,
		Timestamp:     syncv1.TimeToMillis(readAt),
	}, nil
}

func batchOutcome(err error) string {
	if errors.Is(err, ErrUnavailable) {
		return "unavailable"
	}
	return "cancelled"
}

func (r *Reconciler) stripe(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &r.stripes[h.Sum32()%userStripes]
}

func (r *Reconciler) applyAll(ctx context.Context, userID string, actions []syncv1.Action) (map[string]syncv1.ActionResult, error) {
	out := make(map[string]syncv1.ActionResult, len(actions))
	if len(actions) == 0 {
		return out, nil
	}

	mu := r.stripe(userID)
	mu.Lock()
	defer mu.Unlock()

	for i, a := range actions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := a.ClientActionID
		if key == "" {
			key = strconv.Itoa(i)
		}

		if res, ok := r.results.get(userID, a.ClientActionID, r.now()); ok {
			r.metrics.action(a.Type, "replayed")
			out[key] = res
			continue
		}

		res, err := r.apply(ctx, userID, a)
		if err != nil {
			r.metrics.action(a.Type, "aborted")
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			r.log.Error("sync.action.fail", "user_id", userID, "type", a.Type, "client_action_id", a.ClientActionID, "err", err)
			return nil, fmt.Errorf("%w: %s %q: %w", ErrUnavailable, a.Type, a.ClientActionID, err)
		}
		if res.Success {
			r.metrics.action(a.Type, "ok")
		} else {
			r.metrics.action(a.Type, "error")
		}
		r.results.put(userID, a.ClientActionID, res, r.now())
		out[key] = res
	}
	return out, nil
}

// apply runs one action. Domain rejections come back as an unsuccessful result; a non-nil error means
// the action hit a storage or context failure and may be retried.
func (r *Reconciler) apply(ctx context.Context, userID string, a syncv1.Action) (syncv1.ActionResult, error) {
	op, err := a.Decode()
	if err != nil {
		if errors.Is(err, syncv1.ErrUnknownType) {
			return failure("Unknown action type"), nil
		}
		return failure(err.Error()), nil
	}

	switch o := op.(type) {
	case syncv1.SendOp:
		msg, err := r.chats.Send(ctx, userID, chat.SendInput{
			ChatID:         o.ConversationID,
			Content:        o.Content,
			MessageType:    o.MessageType,
			ClientActionID: a.ClientActionID,
		})
		if err != nil {
			return actionError(err)
		}
		return syncv1.ActionResult{Success: true, Message: &msg}, nil

	case syncv1.ReplyOp:
		msg, err := r.chats.Send(ctx, userID, chat.SendInput{
			ChatID:         o.ConversationID,
			Content:        o.Content,
			MessageType:    o.MessageType,
			ReplyTo:        o.ReplyTo,
			ClientActionID: a.ClientActionID,
		})
		if err != nil {
			return actionError(err)
		}
		return syncv1.ActionResult{Success: true, Message: &msg}, nil

	case syncv1.ReactOp:
		msg, err := r.chats.React(ctx, userID, o.MessageID, o.Emoji)
		if err != nil {
			return actionError(err)
		}
		return syncv1.ActionResult{Success: true, Message: &msg}, nil

	case syncv1.EditOp:
		msg, err := r.chats.Edit(ctx, userID, o.MessageID, o.Content)
		if err != nil {
			return actionError(err)
		}
		return syncv1.ActionResult{Success: true, Message: &msg}, nil

	case syncv1.DeleteOp:
		if err := r.chats.Delete(ctx, userID, o.MessageID); err != nil {
			return actionError(err)
		}
		return syncv1.ActionResult{Success: true, MessageID: o.MessageID}, nil

	case syncv1.MarkReadOp:
		msg, err := r.chats.MarkRead(ctx, userID, o.MessageID)
		if err != nil {
			return actionError(err)
		}
		return syncv1.ActionResult{Success: true, Message: &msg}, nil

	case syncv1.BatchMarkSeenOp:
		if err := r.chats.MarkSeen(ctx, userID, o.ConversationID); err != nil {
			return actionError(err)
		}
		zero := 0
		return syncv1.ActionResult{Success: true, UpdatedCount: &zero, MessageIDs: o.MessageIDs}, nil

	default:
		return failure("Unknown action type"), nil
	}
}

func failure(msg string) syncv1.ActionResult {
	return syncv1.ActionResult{Success: false, Error: msg}
}

// actionError maps domain errors to inline results and passes anything else through.
func actionError(err error) (syncv1.ActionResult, error) {
	switch {
	case errors.Is(err, chat.ErrChatNotFound),
		errors.Is(err, chat.ErrNotParticipant),
		errors.Is(err, chat.ErrNotAuthor):
		return failure("Unauthorized"), nil
	case errors.Is(err, chat.ErrMessageNotFound):
		return failure("Message not found"), nil
	case errors.Is(err, chat.ErrInvalidReply):
		return failure("Invalid reply target"), nil
	case errors.Is(err, chat.ErrInvalidInput):
		return failure(err.Error()), nil
	default:
		return syncv1.ActionResult{}, err
	}
}

func (r *Reconciler) readAll(ctx context.Context, userID string, reads []syncv1.ReadCursor, readAt time.Time) map[string]syncv1.ConversationUpdate {
	updates := make(map[string]syncv1.ConversationUpdate, len(reads))
	if len(reads) == 0 {
		return updates
	}

	type slot struct {
		update syncv1.ConversationUpdate
		keep   bool
	}
	seen := make(map[string]struct{}, len(reads))
	cursors := make([]syncv1.ReadCursor, 0, len(reads))
	for _, c := range reads {
		if c.ConversationID == "" {
			continue
		}
		if _, dup := seen[c.ConversationID]; dup {
			continue
		}
		seen[c.ConversationID] = struct{}{}
		cursors = append(cursors, c)
	}
	slots := make([]slot, len(cursors))
	lastSync := syncv1.TimeToMillis(readAt)

	var g errgroup.Group
	g.SetLimit(r.readWorkers)
	for i, c := range cursors {
		g.Go(func() error {
			msgs, err := r.chats.Since(ctx, userID, c.ConversationID, syncv1.MillisToTime(c.LastSync), c.LastMessageID)
			switch {
			case err == nil:
				r.metrics.read(len(msgs))
				slots[i] = slot{keep: true, update: syncv1.ConversationUpdate{
					Messages: msgs,
					HasMore:  len(msgs) >= syncv1.PageCap,
					LastSync: lastSync,
				}}
			case errors.Is(err, chat.ErrChatNotFound), errors.Is(err, chat.ErrNotParticipant):
				// Omitted: the caller must not learn whether the chat exists.
			default:
				if ctx.Err() == nil {
					r.log.Error("sync.read.fail", "user_id", userID, "conversation_id", c.ConversationID, "err", err)
				}
				slots[i] = slot{keep: true, update: syncv1.ConversationUpdate{
					Messages: []syncv1.Message{},
					LastSync: lastSync,
					Error:    "Failed to load messages",
				}}
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, c := range cursors {
		if slots[i].keep {
			updates[c.ConversationID] = slots[i].update
		}
	}
	return updates
}
