// Package tui is the terminal view for watch mode: it shows the graph
// currently published by the session and what the last reload did.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/vanderheijden86/flowgraph/pkg/session"
	"github.com/vanderheijden86/flowgraph/pkg/watcher"
)

// EventMsg is a watcher event delivered to the model.
type EventMsg watcher.Event

// reloadDoneMsg is the outcome of a reload requested from the keyboard.
type reloadDoneMsg watcher.Event

// publishedMsg reports whether a result's outputs were written.
type publishedMsg struct{ err error }

// WaitForEventCmd returns a command that waits for the next watcher event.
func WaitForEventCmd(events <-chan watcher.Event) tea.Cmd {
	return func() tea.Msg {
		return EventMsg(<-events)
	}
}

// Options configures a Model.
type Options struct {
	Status  watcher.Status
	Events  <-chan watcher.Event
	Reload  watcher.ReloadFunc
	Publish func(*session.Result) error
	Initial *session.Result
	Outputs []string
	Clock   func() time.Time
}

type keyMap struct {
	Reload key.Binding
	Quit   key.Binding
}

func (k keyMap) ShortHelp() []key.Binding  { return []key.Binding{k.Reload, k.Quit} }
func (k keyMap) FullHelp() [][]key.Binding { return [][]key.Binding{k.ShortHelp()} }

var defaultKeys = keyMap{
	Reload: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload now")),
	Quit:   key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
}

// Model is the watch-mode view.
type Model struct {
	ctx  context.Context
	opts Options
	keys keyMap
	help help.Model
	spin spinner.Model

	result    *session.Result
	updatedAt time.Time
	reloads   int
	err       error
	errAt     time.Time
	reloading bool
	width     int
	quitting  bool
}

// NewModel creates the view. ctx bounds reloads started from the keyboard.
func NewModel(ctx context.Context, opts Options) Model {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	m := Model{
		ctx:    ctx,
		opts:   opts,
		keys:   defaultKeys,
		help:   help.New(),
		spin:   spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(warnStyle)),
		result: opts.Initial,
	}
	if opts.Initial != nil {
		m.updatedAt = opts.Initial.LoadedAt
	}
	return m
}

// Init starts listening for watcher events.
func (m Model) Init() tea.Cmd {
	if m.opts.Events == nil {
		return nil
	}
	return WaitForEventCmd(m.opts.Events)
}

// Update handles keys, watcher events and reload outcomes.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Reload):
			if m.reloading || m.opts.Reload == nil {
				return m, nil
			}
			m.reloading = true
			return m, tea.Batch(m.spin.Tick, m.reloadCmd())
		}
		return m, nil

	case spinner.TickMsg:
		if !m.reloading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case EventMsg:
		cmd := m.apply(watcher.Event(msg))
		return m, tea.Batch(cmd, WaitForEventCmd(m.opts.Events))

	case reloadDoneMsg:
		m.reloading = false
		return m, m.apply(watcher.Event(msg))

	case publishedMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("write outputs: %w", msg.err)
			m.errAt = m.opts.Clock()
		}
		return m, nil
	}
	return m, nil
}

// apply records an event and returns the command that writes its outputs.
func (m *Model) apply(ev watcher.Event) tea.Cmd {
	at := ev.At
	if at.IsZero() {
		at = m.opts.Clock()
	}
	if ev.Err != nil {
		m.err, m.errAt = ev.Err, at
		return nil
	}
	if ev.Result == nil {
		return nil
	}
	m.result, m.updatedAt = ev.Result, at
	m.err = nil
	m.reloads++
	if m.opts.Publish == nil {
		return nil
	}
	publish, res := m.opts.Publish, ev.Result
	return func() tea.Msg {
		return publishedMsg{err: publish(res)}
	}
}

func (m Model) reloadCmd() tea.Cmd {
	ctx, reload, clock := m.ctx, m.opts.Reload, m.opts.Clock
	return func() tea.Msg {
		res, err := reload(ctx)
		if errors.Is(err, session.ErrSuperseded) {
			// A watcher reload won; its event updates the view.
			return reloadDoneMsg{}
		}
		return reloadDoneMsg{At: clock(), Result: res, Err: err}
	}
}

// Result returns the result on display.
func (m Model) Result() *session.Result { return m.result }

// Err returns the most recent failure, cleared by the next successful reload.
func (m Model) Err() error { return m.err }

// Reloads counts results received since start.
func (m Model) Reloads() int { return m.reloads }

// View renders the status line, the current graph summary and any failure.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("watching") + " " + m.opts.Status.Path + "\n")
	sb.WriteString(labelStyle.Render(m.modeLine()) + "\n\n")

	if m.result == nil {
		sb.WriteString(labelStyle.Render("  no graph loaded yet") + "\n")
	} else {
		sb.WriteString(summary(m.result, m.opts.Outputs, true))
		fmt.Fprintf(&sb, "  %s %s\n", labelStyle.Render(fmt.Sprintf("%-12s", "updated:")),
			okStyle.Render(fmt.Sprintf("%s (%d reloads)", m.updatedAt.Format("15:04:05"), m.reloads)))
	}

	if m.err != nil {
		fmt.Fprintf(&sb, "\n  %s %s\n", alertStyle.Render(m.errAt.Format("15:04:05")+" reload failed:"), m.err)
		if m.result != nil {
			sb.WriteString(labelStyle.Render("  showing the previous graph") + "\n")
		}
	}

	sb.WriteString("\n")
	if m.reloading {
		sb.WriteString(m.spin.View() + " reloading\n")
	}
	sb.WriteString(m.help.View(m.keys))
	return sb.String()
}

func (m Model) modeLine() string {
	st := m.opts.Status
	if st.Polling {
		return fmt.Sprintf("polling every %s (%s)", st.PollInterval, st.FS)
	}
	return fmt.Sprintf("fsnotify (%s)", st.FS)
}
