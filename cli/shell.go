package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/gv211432/QueryDB-Natural-Language/conversation"
)

// Shell drives one local session from terminal input.
type Shell struct {
	session *conversation.Session
	ui      *UI
}

func NewShell(session *conversation.Session, ui *UI) *Shell {
	return &Shell{session: session, ui: ui}
}

// Handle processes one input line and reports whether the shell should exit.
func (s *Shell) Handle(ctx context.Context, line string) bool {
	if cmd := ParseSlashCommand(line); cmd != nil {
		return s.command(cmd)
	}

	before := s.session.State.Len()
	stop := s.ui.Waiting("Generating query...")
	outcome := s.session.Controller.Submit(ctx, line)
	stop()

	switch outcome {
	case conversation.OutcomeIgnored:
		return false
	case conversation.OutcomeBusy:
		s.ui.PrintSystem("still waiting for the previous answer")
		return false
	}
	s.printFrom(before)
	return false
}

func (s *Shell) command(cmd *SlashCommand) bool {
	switch cmd.Name {
	case "quit", "exit":
		return true

	case "help":
		fmt.Fprintln(s.ui.out, helpText)

	case "connect":
		uri, kind := "", ""
		switch len(cmd.Args) {
		case 1:
			uri = cmd.Args[0]
		case 2:
			kind, uri = cmd.Args[0], cmd.Args[1]
		default:
			s.ui.PrintError("usage: /connect [kind] <uri>")
			return false
		}
		if err := s.session.Controller.SetConnection(uri, conversation.ParseKind(kind)); err != nil {
			s.ui.PrintError(err.Error())
			return false
		}
		s.ui.PrintConnection(s.session.Connection.Get())

	case "status":
		s.ui.PrintConnection(s.session.Connection.Get())

	case "clear":
		s.session.Controller.Clear()
		s.ui.PrintSystem("conversation cleared")

	case "history":
		if s.session.State.Len() == 0 {
			s.ui.PrintSystem("no messages yet")
			return false
		}
		s.printFrom(0)

	case "copy":
		s.copy(cmd.Args)

	default:
		s.ui.PrintError(fmt.Sprintf("unknown command /%s (type /help)", cmd.Name))
	}
	return false
}

func (s *Shell) copy(args []string) {
	if len(args) != 1 {
		s.ui.PrintError("usage: /copy <n>")
		return
	}
	n, err := strconv.Atoi(args[0])
	msgs := s.session.State.Messages()
	if err != nil || n < 1 || n > len(msgs) {
		s.ui.PrintError(fmt.Sprintf("no message %s", args[0]))
		return
	}
	m, err := s.session.Controller.Copy(msgs[n-1].ID)
	if err != nil {
		s.ui.PrintError(err.Error())
		return
	}
	fmt.Fprintln(s.ui.out, m.Content)
	s.ui.PrintSystem("Copied!")
}

func (s *Shell) printFrom(start int) {
	view := s.session.View()
	for i := start; i < len(view.Messages); i++ {
		s.ui.PrintMessage(i+1, view.Messages[i])
	}
}

// Run reads lines until /quit, EOF, interrupt or ctx is done.
func (s *Shell) Run(ctx context.Context, historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "querydb> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	go func() {
		<-ctx.Done()
		rl.Close()
	}()

	s.ui.PrintSystem("type a question, or /help")
	s.ui.PrintConnection(s.session.Connection.Get())

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) || ctx.Err() != nil {
				s.ui.PrintSystem("Goodbye!")
				return nil
			}
			return fmt.Errorf("readline error: %w", err)
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if s.Handle(ctx, line) {
			s.ui.PrintSystem("Goodbye!")
			return nil
		}
	}
}
