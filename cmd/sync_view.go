package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/marcus/roofsync/internal/output"
	syncengine "github.com/marcus/roofsync/internal/sync"
)

type engineEventMsg syncengine.Event

type syncDoneMsg struct{}

// syncView shows a running sync on an interactive terminal: the current step
// with a bar, and overall photo transfer progress. Conflicts and errors are
// printed above the view as they happen.
type syncView struct {
	spinner  spinner.Model
	bar      progress.Model
	step     string
	done     int
	total    int
	photos   map[string]int
	finished bool
}

func newSyncView() syncView {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return syncView{
		spinner: s,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
		photos:  map[string]int{},
	}
}

func (m syncView) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m syncView) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case engineEventMsg:
		return m.apply(syncengine.Event(msg))
	case syncDoneMsg:
		m.finished = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m syncView) apply(ev syncengine.Event) (tea.Model, tea.Cmd) {
	switch ev.Type {
	case syncengine.EventProgress:
		m.step, m.done, m.total = ev.Step, ev.Done, ev.Total
	case syncengine.EventPhotoProgress:
		m.photos[ev.PhotoID] = ev.Percent
	case syncengine.EventConflict:
		return m, tea.Printf("conflict on report %s (%d field(s)); run: roofsync conflicts show %s",
			output.ShortID(ev.ReportID), len(ev.Conflicts), output.ShortID(ev.ReportID))
	case syncengine.EventError:
		if !errors.Is(ev.Err, context.Canceled) {
			return m, tea.Printf("sync: %v", ev.Err)
		}
	}
	return m, nil
}

func (m syncView) photoPercent() float64 {
	if len(m.photos) == 0 {
		return 0
	}
	sum := 0
	for _, p := range m.photos {
		sum += p
	}
	return float64(sum) / float64(len(m.photos)) / 100
}

func (m syncView) View() string {
	if m.finished {
		return ""
	}
	step := m.step
	if step == "" {
		step = "starting"
	}
	pct := 0.0
	if m.total > 0 {
		pct = float64(m.done) / float64(m.total)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %-12s %s %d/%d\n", m.spinner.View(), step, m.bar.ViewAs(pct), m.done, m.total)
	if len(m.photos) > 0 {
		fmt.Fprintf(&b, "  %-12s %s %d photo(s)\n", "photos", m.bar.ViewAs(m.photoPercent()), len(m.photos))
	}
	return b.String()
}

// runSyncWithView runs one full sync while rendering its progress on stderr
func runSyncWithView(ctx context.Context, engine *syncengine.Engine) (*syncengine.Summary, error) {
	p := tea.NewProgram(newSyncView(),
		tea.WithOutput(os.Stderr),
		tea.WithInput(nil),
		tea.WithoutSignalHandler())

	unsubscribe := engine.Subscribe(func(ev syncengine.Event) {
		p.Send(engineEventMsg(ev))
	})
	defer unsubscribe()

	var (
		summary *syncengine.Summary
		syncErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		summary, syncErr = engine.FullSync(ctx)
		p.Send(syncDoneMsg{})
	}()

	_, viewErr := p.Run()
	<-done
	if viewErr != nil && syncErr == nil {
		// the sync result stands even when the display failed
		output.Warning("progress display: %v", viewErr)
	}
	return summary, syncErr
}
