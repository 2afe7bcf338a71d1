package output

import (
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

// report notes wrap narrower than a wide terminal so they read like a page
const (
	notesMaxWidth = 100
	notesMinWidth = 20
)

// notesWidth picks a wrap width from the terminal, then $COLUMNS
func notesWidth() int {
	w := 80
	if tw, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && tw > 0 {
		w = tw
	} else if n, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && n > 0 {
		w = n
	}
	return max(notesMinWidth, min(w-4, notesMaxWidth))
}

// RenderNotes renders markdown report notes for the current stdout. Output
// piped to a file gets glamour's plain style with no escape codes.
func RenderNotes(notes string) (string, error) {
	style := glamour.WithAutoStyle()
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		style = glamour.WithStandardStyle("notty")
	}
	return renderNotes(notes, notesWidth(), style)
}

func renderNotes(notes string, width int, style glamour.TermRendererOption) (string, error) {
	if strings.TrimSpace(notes) == "" {
		return "", nil
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(max(width, notesMinWidth)))
	if err != nil {
		return "", err
	}
	out, err := r.Render(notes)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\n"), nil
}
