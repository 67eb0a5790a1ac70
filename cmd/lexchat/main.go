package main

import (
	"bufio"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/youruser/lexchat/internal/api"
	"github.com/youruser/lexchat/internal/config"
	"github.com/youruser/lexchat/internal/logging"
	"github.com/youruser/lexchat/internal/session"
)

//go:embed version.txt
var version string

var log = logging.Get()

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v":
			fmt.Printf("lexchat %s\n", strings.TrimSpace(version))
			return
		}
	}
	defer log.Close()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "lexchat: %v\n", err)
		os.Exit(1)
	}
	log.SetLevel(cfg.LogLevel)

	client := api.NewClient(cfg.BaseURL, cfg.AuthToken, cfg.RequestTimeout)

	printer := &streamPrinter{}
	ctl := session.NewController(client, session.Options{
		Authenticated: cfg.AuthToken != "",
		PageSize:      cfg.PageSize,
		Callbacks: session.Callbacks{
			OnSnapshot: printer.onSnapshot,
			OnError: func(err error) {
				fmt.Fprintf(os.Stderr, "\nlexchat: %v\n", err)
			},
		},
	})

	// Ctrl-C aborts the in-flight response instead of killing the process.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		for range sigCh {
			if !ctl.Cancel() {
				fmt.Fprintln(os.Stderr, "\nlexchat: exiting")
				os.Exit(0)
			}
			fmt.Println("\n[response aborted]")
		}
	}()

	fmt.Printf("lexchat %s — session %s (type /help for commands)\n", strings.TrimSpace(version), ctl.SessionID())

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}
		if strings.HasPrefix(line, "/") {
			if !handleCommand(ctl, line) {
				return
			}
			fmt.Print("> ")
			continue
		}

		printer.reset()
		if err := ctl.Send(context.Background(), line); err != nil {
			if errors.Is(err, session.ErrBusy) {
				fmt.Fprintln(os.Stderr, "lexchat: a response is still in progress")
			}
		} else {
			printer.finish(ctl)
		}
		fmt.Print("> ")
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "stdin error: %v\n", err)
		os.Exit(1)
	}
}

func handleCommand(ctl *session.Controller, line string) bool {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	ctx := context.Background()

	switch cmd {
	case "/quit", "/exit":
		return false

	case "/help":
		fmt.Println(`commands:
  /new                 start a fresh session (aborts any in-flight response)
  /clear               start fresh and delete the old session's history
  /list                list conversations
  /open <id>           load a persisted conversation
  /rename <id> <name>  rename a conversation
  /delete <id>         delete a conversation
  /tokens [draft]      estimate the token footprint of the next send
  /quit                exit`)

	case "/new":
		ctl.NewSession()
		fmt.Printf("started session %s\n", ctl.SessionID())

	case "/clear":
		ctl.Clear(ctx)
		fmt.Printf("cleared; started session %s\n", ctl.SessionID())

	case "/list":
		if err := ctl.RefreshConversations(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "lexchat: %v\n", err)
			break
		}
		for _, s := range ctl.Conversations() {
			fmt.Printf("  %s  %s\n", s.ID, s.Title)
		}

	case "/open":
		if len(args) != 1 {
			fmt.Fprintln(os.Stderr, "usage: /open <id>")
			break
		}
		if err := ctl.LoadConversation(ctx, args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "lexchat: %v\n", err)
			break
		}
		for _, m := range ctl.Messages() {
			fmt.Printf("%s: %s\n", m.Role, m.Content)
		}

	case "/rename":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: /rename <id> <name>")
			break
		}
		if err := ctl.RenameConversation(ctx, args[0], strings.Join(args[1:], " ")); err != nil {
			fmt.Fprintf(os.Stderr, "lexchat: %v\n", err)
		}

	case "/delete":
		if len(args) != 1 {
			fmt.Fprintln(os.Stderr, "usage: /delete <id>")
			break
		}
		if err := ctl.DeleteConversation(ctx, args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "lexchat: %v\n", err)
		}

	case "/tokens":
		est := ctl.EstimateTokens(strings.Join(args, " "))
		fmt.Printf("history: %d, input: %d, total: %d tokens\n", est.History, est.Input, est.Total)

	default:
		fmt.Fprintf(os.Stderr, "unknown command %s (try /help)\n", cmd)
	}
	return true
}

// streamPrinter echoes the in-progress assistant message incrementally as
// snapshots arrive.
type streamPrinter struct {
	printed string
}

func (p *streamPrinter) reset() {
	p.printed = ""
}

func (p *streamPrinter) onSnapshot(snap session.Snapshot) {
	if len(snap.Messages) == 0 {
		return
	}
	last := snap.Messages[len(snap.Messages)-1]
	if !last.IsStreaming {
		return
	}
	if strings.HasPrefix(last.Content, p.printed) {
		fmt.Print(last.Content[len(p.printed):])
		p.printed = last.Content
	}
}

// finish prints whatever the finalized assistant turn added beyond the
// streamed output (the whole message when the fallback path produced it).
func (p *streamPrinter) finish(ctl *session.Controller) {
	msgs := ctl.Messages()
	if len(msgs) == 0 {
		return
	}
	last := msgs[len(msgs)-1]
	if last.Role != session.RoleAssistant {
		fmt.Println()
		return
	}
	if strings.HasPrefix(last.Content, p.printed) {
		fmt.Println(last.Content[len(p.printed):])
		return
	}
	if p.printed != "" {
		fmt.Println()
	}
	fmt.Println(last.Content)
}
