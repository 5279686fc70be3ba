package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"nca-go/internal/chat"
	"nca-go/internal/render"
	"nca-go/internal/session"
	"nca-go/internal/stream"
	"nca-go/internal/transcript"
)

const revealTick = 50 * time.Millisecond

// Options configures the TUI model.
type Options struct {
	Chat     *chat.Chat
	Events   <-chan tea.Msg
	Terminal *render.Terminal
	// GlamourStyle is used for reasoning and tool output.
	GlamourStyle string
	// Reveal is how long a freshly streamed word takes to fade in.
	Reveal time.Duration
	// LoadHistory fetches the conversation's history on start.
	LoadHistory bool
}

// Model is the bubbletea model for the TUI.
type Model struct {
	textarea textarea.Model
	viewport viewport.Model
	spinner  spinner.Model

	messages []transcript.Message
	notice   string
	loading  bool
	ready    bool
	quitting bool

	chat         *chat.Chat
	eventCh      <-chan tea.Msg
	conv         *conversation
	glamourStyle string
	loadHistory  bool
	now          func() time.Time
	width        int
	height       int

	// Streaming state
	streaming bool
	ticking   bool
}

// NewModel creates a new TUI model.
func NewModel(opts Options) Model {
	// Textarea setup
	ta := textarea.New()
	ta.Placeholder = "Type a message..."
	ta.Focus()
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.MaxHeight = 3
	ta.SetHeight(1)
	ta.Prompt = "│ "
	// Enter sends message (intercepted in Update), Alt+Enter inserts newline
	ta.KeyMap.InsertNewline.SetKeys("alt+enter", "shift+enter")

	// Spinner setup
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	term := opts.Terminal
	if term == nil {
		term = render.NewTerminal(nil, nil)
	}

	return Model{
		textarea: ta,
		spinner:  sp,
		chat:     opts.Chat,
		eventCh:  opts.Events,
		conv: &conversation{
			term:   term,
			md:     newMarkdownRenderer(80, opts.GlamourStyle),
			reveal: newRevealState(opts.Reveal),
		},
		glamourStyle: opts.GlamourStyle,
		loadHistory:  opts.LoadHistory,
		now:          time.Now,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		textarea.Blink,
		m.spinner.Tick,
		waitForEvent(m.eventCh),
	}
	if m.loadHistory {
		cmds = append(cmds, loadHistory(m.chat))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		// Rebuild markdown renderer for new width
		m.conv.md = newMarkdownRenderer(msg.Width, m.glamourStyle)

		// Layout: header(1) + viewport + divider(1) + input(3) + help(1)
		headerHeight := 1
		footerHeight := 5 // divider + input area + help
		vpHeight := msg.Height - headerHeight - footerHeight
		if vpHeight < 1 {
			vpHeight = 1
		}

		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.viewport.MouseWheelEnabled = true
			m.viewport.MouseWheelDelta = 3
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}

		// Update textarea width
		m.textarea.SetWidth(msg.Width - 2)
		m.refresh(true)

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			if m.loading {
				m.chat.Cancel()
			}
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEsc:
			if m.loading {
				m.chat.Cancel()
				return m, nil
			}
		case tea.KeyEnter:
			if m.loading {
				// Ignore enter while loading
				return m, nil
			}
			text := strings.TrimSpace(m.textarea.Value())
			if text == "" {
				return m, nil
			}
			m.textarea.Reset()
			switch text {
			case "exit", "quit":
				m.quitting = true
				return m, tea.Quit
			case "/new":
				if err := m.chat.Reset(session.New()); err != nil {
					m.notice = err.Error()
				} else {
					m.notice = ""
					m.messages = nil
				}
				m.refresh(true)
				return m, nil
			}

			m.notice = ""
			m.loading = true
			m.textarea.Blur()
			return m, sendPrompt(m.chat, text)
		}

	case TranscriptMsg:
		// Late snapshots of a finished stream carry nothing new.
		if msg.Streaming && !m.loading {
			cmds = append(cmds, waitForEvent(m.eventCh))
			break
		}
		m.messages = msg.Messages
		m.streaming = msg.Streaming
		m.refresh(true)
		cmds = append(cmds, waitForEvent(m.eventCh), m.startTicking())

	case LanguageLoadedMsg:
		m.refresh(false)
		cmds = append(cmds, waitForEvent(m.eventCh))

	case revealTickMsg:
		m.ticking = false
		m.refresh(false)
		cmds = append(cmds, m.startTicking())

	case sendDoneMsg:
		m.loading = false
		m.streaming = false
		m.messages = m.chat.Transcript().Snapshot()
		switch {
		case errors.Is(msg.err, stream.ErrCancelled):
			m.notice = "Cancelled."
		case msg.err != nil:
			m.notice = "Error: " + msg.err.Error()
		case msg.result.Stats.Dropped() > 0:
			m.notice = fmt.Sprintf("%d malformed frames were skipped.", msg.result.Stats.Dropped())
		}
		m.textarea.Focus()
		m.refresh(true)

	case historyMsg:
		if msg.err != nil {
			m.notice = "Error: " + msg.err.Error()
		} else {
			m.messages = m.chat.Transcript().Snapshot()
		}
		m.refresh(true)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	// Update textarea (for non-enter keys)
	if !m.loading {
		var taCmd tea.Cmd
		m.textarea, taCmd = m.textarea.Update(msg)
		cmds = append(cmds, taCmd)
	}

	// Update viewport (for scrolling)
	var vpCmd tea.Cmd
	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, vpCmd)

	return m, tea.Batch(cmds...)
}

// refresh re-renders the conversation into the viewport.
func (m *Model) refresh(bottom bool) {
	if !m.ready {
		return
	}
	content := m.conv.render(m.messages, m.streaming, m.now())
	if m.notice != "" {
		content += "\n\n" + errorStyle.Render(m.notice)
	}
	m.viewport.SetContent(content)
	if bottom {
		m.viewport.GotoBottom()
	}
}

// startTicking schedules re-renders while words are fading in.
func (m *Model) startTicking() tea.Cmd {
	if m.ticking || !m.conv.reveal.fading(m.now()) {
		return nil
	}
	m.ticking = true
	return tea.Tick(revealTick, func(time.Time) tea.Msg { return revealTickMsg{} })
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if !m.ready {
		return "\n  Initializing..."
	}

	// Header
	title := " nca "
	if m.chat != nil {
		if s := m.chat.Session(); s.Title != "" {
			title = " nca · " + s.Title + " "
		}
	}
	header := appTitleStyle.Render(title)

	// Divider
	divider := dividerStyle.Render(strings.Repeat("─", m.width))

	// Input area or spinner
	var inputArea string
	if m.loading {
		if m.streaming {
			inputArea = fmt.Sprintf("  %s Receiving...", m.spinner.View())
		} else {
			inputArea = fmt.Sprintf("  %s Thinking...", m.spinner.View())
		}
	} else {
		inputArea = m.textarea.View()
	}

	// Footer help
	footer := helpStyle.Render("  Enter: send | Alt+Enter: newline | Esc: stop | /new: new chat | Ctrl+C: quit")

	return fmt.Sprintf(
		"%s\n%s\n%s\n%s\n%s",
		header,
		m.viewport.View(),
		divider,
		inputArea,
		footer,
	)
}

// waitForEvent returns a command that waits for the next bridged event.
func waitForEvent(ch <-chan tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

// sendPrompt submits a prompt asynchronously.
func sendPrompt(c *chat.Chat, text string) tea.Cmd {
	return func() tea.Msg {
		res, err := c.Send(context.Background(), text)
		return sendDoneMsg{result: res, err: err}
	}
}

func loadHistory(c *chat.Chat) tea.Cmd {
	return func() tea.Msg {
		n, err := c.Load(context.Background())
		return historyMsg{count: n, err: err}
	}
}
