package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/deploydeck/internal/auth"
	"github.com/vovakirdan/deploydeck/internal/backend"
	"github.com/vovakirdan/deploydeck/internal/chatsync"
	"github.com/vovakirdan/deploydeck/internal/store"
)

// backendUser is the profile returned by sign-in.
type backendUser struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

func userFromRecord(rec backend.Record) (backendUser, error) {
	var u backendUser
	if err := backend.Decode(rec, &u); err != nil {
		return backendUser{}, fmt.Errorf("decode profile: %w", err)
	}
	if u.ID == "" {
		return backendUser{}, errors.New("sign-in response has no user id")
	}
	return u, nil
}

func (u backendUser) author() chatsync.Author {
	return chatsync.Author{
		ID:   u.ID,
		Name: auth.DisplayName(&store.Profile{Email: u.Email, FullName: u.FullName}),
	}
}

func newChatCmd(c *cli) *cobra.Command {
	var (
		creds credentials
		scope string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join the team chat from the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if scope == "" {
				scope = c.cfg.Client.Scope
			}
			return runChat(cmd.Context(), c, &creds, scope, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	creds.register(cmd.Flags())
	cmd.Flags().StringVar(&scope, "scope", "", "conversation to join (default from config)")
	return cmd
}

func runChat(ctx context.Context, c *cli, creds *credentials, scope string, in io.Reader, out, errOut io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client, user, err := creds.connect(ctx, c)
	if err != nil {
		return err
	}
	author := user.author()

	var printMu sync.Mutex
	printf := func(w io.Writer, format string, args ...any) {
		printMu.Lock()
		defer printMu.Unlock()
		fmt.Fprintf(w, format, args...)
	}
	printMessage := func(m chatsync.Message) {
		printf(out, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), m.AuthorName, m.Body)
	}

	printer := newFeedPrinter(printMessage)
	session, err := chatsync.Initialize(ctx, client, chatsync.Config{
		Scope:        scope,
		HistoryLimit: c.cfg.HistoryLimit,
		Logger:       c.logger,
		OnAppend:     printer.append,
		Notifier: chatsync.NotifierFunc(func(err error) {
			printf(errOut, "! %v\n", err)
		}),
	})
	if err != nil {
		printf(errOut, "! %v\n", err)
	}
	defer func() {
		if err := session.Teardown(); err != nil {
			c.logger.Warn().Err(err).Msg("chat teardown")
		}
	}()

	printer.start(session.Messages)
	printf(out, "Joined #%s as %s. Type messages and press Enter to send, %s to resend a failed one. Ctrl+C to exit.\n",
		scope, author.Name, retryCommand)

	// Sends run one at a time off the input loop so a slow insert does not
	// block reading.
	outbox := make(chan string, 16)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sendLoop(ctx, session, author, outbox, func(format string, args ...any) {
			printf(errOut, format, args...)
		})
	}()
	defer wg.Wait()
	defer close(outbox)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			select {
			case outbox <- text:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// retryCommand resends the draft kept from the last failed send.
const retryCommand = "/retry"

// sendLoop sends each queued line in order. A failed send leaves its text
// as the session draft, which is echoed back so it can be resent.
func sendLoop(ctx context.Context, session *chatsync.Session, author chatsync.Author, outbox <-chan string, warnf func(format string, args ...any)) {
	for line := range outbox {
		if line == retryCommand {
			if session.Draft() == "" {
				warnf("! nothing to resend\n")
				continue
			}
		} else {
			session.SetDraft(line)
		}
		if err := session.SendDraft(ctx, author); err != nil {
			warnf("! draft kept: %q (type %s to resend)\n", session.Draft(), retryCommand)
		}
	}
}

// feedPrinter holds back live messages until the history has been
// printed, so the terminal shows the feed in order.
type feedPrinter struct {
	emit func(chatsync.Message)

	mu      sync.Mutex
	started bool
	shown   map[string]struct{}
}

func newFeedPrinter(emit func(chatsync.Message)) *feedPrinter {
	return &feedPrinter{emit: emit, shown: make(map[string]struct{})}
}

// start prints the feed as returned by snapshot and lets live messages
// through from then on. Messages appended before start are part of the
// snapshot.
func (p *feedPrinter) start(snapshot func() []chatsync.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, m := range snapshot() {
		p.shown[m.ID] = struct{}{}
		p.emit(m)
	}
	p.started = true
}

func (p *feedPrinter) append(m chatsync.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}
	if _, ok := p.shown[m.ID]; ok {
		return
	}
	p.shown[m.ID] = struct{}{}
	p.emit(m)
}
