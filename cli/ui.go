package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/pterm/pterm"

	"github.com/gv211432/QueryDB-Natural-Language/conversation"
	"github.com/gv211432/QueryDB-Natural-Language/logging"
)

const maxRenderWidth = 120

// UI renders conversation output to a terminal.
type UI struct {
	out            io.Writer
	renderMarkdown bool
	spinner        bool
	width          int
}

// NewUI writes to out. Markdown rendering and the spinner are meant for
// interactive terminals; tests turn both off.
func NewUI(out io.Writer, interactive bool) *UI {
	width := pterm.GetTerminalWidth()
	if width <= 0 || width > maxRenderWidth {
		width = maxRenderWidth
	}
	return &UI{out: out, renderMarkdown: interactive, spinner: interactive, width: width}
}

// RenderMessage formats one message. Query-like assistant text goes in a
// box; prose goes through the markdown renderer.
func (ui *UI) RenderMessage(index int, m conversation.MessageView) string {
	label := fmt.Sprintf("[%d] ", index)
	if m.Role == conversation.RoleUser {
		return label + pterm.NewStyle(pterm.FgLightCyan, pterm.Bold).Sprint("You: ") + m.Content
	}

	if m.IsQuery {
		box := pterm.DefaultBox.
			WithTitle(pterm.NewStyle(pterm.FgCyan, pterm.Bold).Sprint("Generated SQL Query:")).
			Sprint(m.Content)
		return label + "\n" + box
	}

	return label + ui.renderProse(m.Content)
}

func (ui *UI) renderProse(text string) string {
	if !ui.renderMarkdown {
		return text
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(ui.width),
	)
	if err != nil {
		return text
	}
	rendered, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimSpace(rendered)
}

func (ui *UI) PrintMessage(index int, m conversation.MessageView) {
	fmt.Fprintln(ui.out, ui.RenderMessage(index, m))
}

func (ui *UI) PrintSystem(text string) {
	fmt.Fprintln(ui.out, pterm.NewStyle(pterm.FgYellow).Sprint("System: ")+text)
}

func (ui *UI) PrintError(text string) {
	fmt.Fprintln(ui.out, pterm.NewStyle(pterm.FgRed).Sprint("Error: ")+text)
}

func (ui *UI) PrintConnection(d conversation.Descriptor, ok bool) {
	if !ok {
		ui.PrintSystem("no database connection; use /connect")
		return
	}
	ui.PrintSystem(fmt.Sprintf("connected to %s (%s)", logging.SanitizeURI(d.URI), d.Kind))
}

// Waiting shows a spinner until the returned stop func is called.
func (ui *UI) Waiting(text string) (stop func()) {
	if !ui.spinner {
		return func() {}
	}
	sp, err := pterm.DefaultSpinner.WithWriter(ui.out).WithRemoveWhenDone(true).Start(text)
	if err != nil {
		return func() {}
	}
	return func() { _ = sp.Stop() }
}
