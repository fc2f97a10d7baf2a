package chat

import (
	"context"

	syncv1 "duo/shared/contracts/sync/v1"
)

func (s *Service) renderOne(ctx context.Context, m Message) (syncv1.Message, error) {
	out, err := s.Render(ctx, []Message{m})
	if err != nil {
		return syncv1.Message{}, err
	}
	return out[0], nil
}

// Render resolves authors, reply targets and reactors. A reply target that no
// longer exists renders as a deleted placeholder.
func (s *Service) Render(ctx context.Context, msgs []Message) ([]syncv1.Message, error) {
	out := make([]syncv1.Message, 0, len(msgs))
	if len(msgs) == 0 {
		return out, nil
	}

	var replyIDs []string
	for _, m := range msgs {
		if m.ReplyTo != "" {
			replyIDs = append(replyIDs, m.ReplyTo)
		}
	}
	targets, err := s.store.MessagesByID(ctx, replyIDs)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var userIDs []string
	addUser := func(id string) {
		if _, ok := seen[id]; !ok && id != "" {
			seen[id] = struct{}{}
			userIDs = append(userIDs, id)
		}
	}
	for _, m := range msgs {
		addUser(m.SenderID)
		for _, r := range m.Reactions {
			for _, u := range r.UserIDs {
				addUser(u)
			}
		}
	}
	for _, t := range targets {
		addUser(t.SenderID)
	}
	users, err := s.users.Users(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	ref := func(id string) syncv1.UserRef {
		return syncv1.UserRef{ID: id, Username: users[id].Username}
	}

	for _, m := range msgs {
		wm := syncv1.Message{
			ID:             m.ID,
			ConversationID: m.ChatID,
			Sender:         ref(m.SenderID),
			Content:        m.Content,
			MessageType:    m.MessageType,
			Reactions:      make([]syncv1.Reaction, 0, len(m.Reactions)),
			CreatedAt:      m.CreatedAt,
			UpdatedAt:      m.UpdatedAt,
			Version:        m.Version,
			ClientActionID: m.ClientActionID,
		}
		if m.ReplyTo != "" {
			if t, ok := targets[m.ReplyTo]; ok {
				sender := ref(t.SenderID)
				wm.ReplyTo = &syncv1.ReplyRef{ID: t.ID, Content: t.Content, Sender: &sender}
			} else {
				wm.ReplyTo = &syncv1.ReplyRef{ID: m.ReplyTo, Deleted: true}
			}
		}
		for _, r := range m.Reactions {
			wr := syncv1.Reaction{Emoji: r.Emoji, Users: make([]syncv1.UserRef, len(r.UserIDs))}
			for i, u := range r.UserIDs {
				wr.Users[i] = ref(u)
			}
			wm.Reactions = append(wm.Reactions, wr)
		}
		out = append(out, wm)
	}
	return out, nil
}
