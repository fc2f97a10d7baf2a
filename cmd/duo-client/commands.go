package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"duo/cmd/internal/syncclient"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newLoginCmd(env *clientEnv) *cobra.Command {
	var (
		username   string
		usePasskey bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if username == "" {
				username = env.cfg.Username
			}
			if username == "" {
				return errors.New("username required (--username or config)")
			}

			cred := syncclient.Credentials{Username: username}
			var err error
			if usePasskey {
				cred.Passkey, err = readSecret(env.in, env.out, "Passkey: ")
			} else {
				cred.Password, err = readSecret(env.in, env.out, "Password: ")
			}
			if err != nil {
				return err
			}

			tr, err := env.transport()
			if err != nil {
				return err
			}
			login, err := tr.Login(cmd.Context(), cred)
			if err != nil {
				return err
			}
			if err := saveSession(env.cfg, savedSession{
				Server:    env.cfg.Server,
				UserID:    login.User.ID,
				Username:  login.User.Username,
				Token:     login.Token,
				ExpiresAt: login.Expires,
			}); err != nil {
				return err
			}
			fmt.Fprintf(env.out, "Logged in as %s (session expires %s)\n", login.User.Username, humanize.Time(login.Expires))
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "account username")
	cmd.Flags().BoolVar(&usePasskey, "passkey", false, "log in with the recovery passkey instead of the password")
	return cmd
}

func newChatsCmd(env *clientEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "chats",
		Short: "List chats, most recently active first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tr, _, err := env.authedTransport()
			if err != nil {
				return err
			}
			chats, err := tr.Chats(cmd.Context())
			if err != nil {
				return err
			}
			if len(chats) == 0 {
				fmt.Fprintln(env.out, "No chats yet.")
				return nil
			}
			for _, c := range chats {
				fmt.Fprintf(env.out, "%s  %-20s %-8s %5d msgs  active %s\n",
					c.ID, c.Peer.Username, c.Presence.Status, c.MessageCount, humanize.Time(c.LastActivity))
			}
			return nil
		},
	}
}

func newSendCmd(env *clientEnv) *cobra.Command {
	var replyTo string
	cmd := &cobra.Command{
		Use:   "send <chat-id> <text>...",
		Short: "Send one message and wait for the server to confirm it",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, text := args[0], strings.Join(args[1:], " ")

			sess, err := env.openSession()
			if err != nil {
				return err
			}
			defer sess.Close()

			ctx := cmd.Context()
			var id string
			if replyTo != "" {
				id, err = sess.Reply(ctx, chatID, replyTo, text)
			} else {
				id, err = sess.Send(ctx, chatID, text)
			}
			if err != nil {
				return err
			}
			return reportDelivery(env.out, sess, chatID, id)
		},
	}
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "id of the message being replied to")
	return cmd
}

// reportDelivery prints the outcome of a sent action after its flush.
func reportDelivery(out io.Writer, sess *syncclient.Session, chatID, actionID string) error {
	for _, it := range sess.Messages(chatID) {
		if it.ClientActionID != actionID {
			continue
		}
		switch {
		case it.Failed:
			return fmt.Errorf("rejected: %s", it.Error)
		case it.ID != "":
			fmt.Fprintf(out, "sent %s\n", it.ID)
			return nil
		}
	}
	return errors.New("not delivered: server unreachable")
}

func newWatchCmd(env *clientEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <chat-id>",
		Short: "Follow a chat; lines typed on stdin are sent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := env.openSession()
			if err != nil {
				return err
			}
			defer sess.Close()
			return watch(cmd.Context(), env, sess, args[0])
		},
	}
}

func watch(ctx context.Context, env *clientEnv, sess *syncclient.Session, chatID string) error {
	if err := sess.Open(ctx, chatID); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(env.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	p := newPrinter(env.out)
	p.flush(sess, chatID)

	redraw := time.NewTicker(250 * time.Millisecond)
	defer redraw.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := p.command(ctx, sess, chatID, line); err != nil {
				fmt.Fprintf(env.out, "! %v\n", err)
			}
		case <-redraw.C:
			p.flush(sess, chatID)
		}
	}
}

// printer writes each confirmed message once, again when it changes, and a line when it goes away.
// Each failure is written once.
type printer struct {
	out    io.Writer
	shown  map[string]string
	failed map[string]bool
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, shown: map[string]string{}, failed: map[string]bool{}}
}

func (p *printer) flush(sess *syncclient.Session, chatID string) {
	p.render(sess.Messages(chatID), sess.Failures())
}

func (p *printer) render(items []syncclient.Item, failures []syncclient.Failure) {
	present := make(map[string]bool, len(items))
	for _, it := range items {
		if it.ID == "" {
			continue
		}
		present[it.ID] = true
		line := formatItem(it)
		prev, ok := p.shown[it.ID]
		switch {
		case !ok:
			fmt.Fprintln(p.out, line)
		case prev != line:
			fmt.Fprintln(p.out, "~ "+line)
		}
		p.shown[it.ID] = line
	}
	for _, id := range slices.Sorted(maps.Keys(p.shown)) {
		if !present[id] {
			delete(p.shown, id)
			fmt.Fprintf(p.out, "- #%s deleted\n", id)
		}
	}

	for _, f := range failures {
		if p.failed[f.Action.ID] {
			continue
		}
		p.failed[f.Action.ID] = true
		fmt.Fprintf(p.out, "! %s failed: %s (/retry %s or /dismiss %s)\n", f.Action.Op.Kind(), f.Error, f.Action.ID, f.Action.ID)
	}
}

func formatItem(it syncclient.Item) string {
	var b strings.Builder
	b.WriteString(it.CreatedAt.Local().Format("15:04"))
	b.WriteString(" <")
	b.WriteString(it.Sender.Username)
	b.WriteString("> ")
	if it.ReplyTo != nil {
		if it.ReplyTo.Deleted {
			b.WriteString("[reply to deleted message] ")
		} else {
			fmt.Fprintf(&b, "[re: %q] ", truncate(it.ReplyTo.Content, 24))
		}
	}
	b.WriteString(it.Content)
	for _, r := range it.Reactions {
		fmt.Fprintf(&b, " %s%d", r.Emoji, len(r.Users))
	}
	b.WriteString("  #")
	b.WriteString(it.ID)
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// command handles one stdin line: plain text is sent, slash commands act on messages.
func (p *printer) command(ctx context.Context, sess *syncclient.Session, chatID, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	sess.Interact()
	if !strings.HasPrefix(line, "/") {
		_, err := sess.Send(ctx, chatID, line)
		return err
	}

	verb, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	arg, text, _ := strings.Cut(rest, " ")
	text = strings.TrimSpace(text)

	var err error
	switch verb {
	case "reply":
		_, err = sess.Reply(ctx, chatID, arg, text)
	case "react":
		_, err = sess.React(ctx, chatID, arg, text)
	case "edit":
		_, err = sess.Edit(ctx, chatID, arg, text)
	case "delete":
		_, err = sess.Delete(ctx, chatID, arg)
	case "retry":
		delete(p.failed, arg)
		_, err = sess.Retry(ctx, arg)
	case "dismiss":
		err = sess.Dismiss(arg)
	case "older":
		var n int
		n, err = sess.LoadOlder(ctx, chatID)
		if err == nil {
			fmt.Fprintf(p.out, "loaded %d older messages\n", n)
		}
	default:
		err = fmt.Errorf("unknown command /%s", verb)
	}
	return err
}
