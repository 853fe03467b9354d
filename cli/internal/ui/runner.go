package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BioHazard786/Warpcall/cli/internal/utils"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// StatusUpdate is one change of the call status shown in the live view.
type StatusUpdate struct {
	Status string
	Peer   string
	Err    string
}

type tickMsg time.Time

// CallUI shows the live state of a call until the user hangs up.
type CallUI struct {
	program *tea.Program
	model   *callModel
	updates chan StatusUpdate
	hangup  chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

type callModel struct {
	room        string
	status      string
	peer        string
	errMsg      string
	spinner     spinner.Model
	startTime   time.Time
	connectedAt time.Time
	updates     chan StatusUpdate
	hangup      chan struct{}
	quitting    bool
}

// NewCallUI creates the live view for room.
func NewCallUI(room string) *CallUI {
	updates := make(chan StatusUpdate, 16)
	hangup := make(chan struct{})

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &CallUI{
		model: &callModel{
			room:      room,
			status:    "joined",
			spinner:   s,
			startTime: time.Now(),
			updates:   updates,
			hangup:    hangup,
		},
		updates: updates,
		hangup:  hangup,
	}
}

// Start runs the view in a goroutine. Inline mode keeps earlier output visible.
func (ui *CallUI) Start() {
	ui.program = tea.NewProgram(ui.model)
	ui.wg.Add(1)
	go func() {
		defer ui.wg.Done()
		if _, err := ui.program.Run(); err != nil {
			fmt.Printf("UI error: %v\n", err)
		}
	}()
}

// Update pushes a status change. Dropped if the view is behind.
func (ui *CallUI) Update(u StatusUpdate) {
	select {
	case ui.updates <- u:
	default:
	}
}

// Hangup is closed when the user asks to end the call.
func (ui *CallUI) Hangup() <-chan struct{} {
	return ui.hangup
}

// Stop ends the view and waits for the terminal to be restored.
func (ui *CallUI) Stop() {
	ui.once.Do(func() {
		if ui.program != nil {
			ui.program.Quit()
		}
		ui.wg.Wait()
	})
}

func (m *callModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.listenForUpdates(),
		tickCmd(),
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *callModel) listenForUpdates() tea.Cmd {
	return func() tea.Msg {
		return <-m.updates
	}
}

func (m *callModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if !m.quitting {
				m.quitting = true
				close(m.hangup)
			}
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		if !m.quitting {
			cmds = append(cmds, tickCmd())
		}

	case StatusUpdate:
		m.apply(msg)
		cmds = append(cmds, m.listenForUpdates())
	}

	return m, tea.Batch(cmds...)
}

func (m *callModel) apply(u StatusUpdate) {
	if u.Status == "peer-connected" && m.status != "peer-connected" {
		m.connectedAt = time.Now()
	}
	if u.Status != "peer-connected" {
		m.connectedAt = time.Time{}
	}
	m.status = u.Status
	m.peer = u.Peer
	m.errMsg = u.Err
}

func (m *callModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(fmt.Sprintf("\n%s Call in room %s\n\n", IconCall, BoldStyle.Render(m.room)))

	icon := m.spinner.View()
	switch m.status {
	case "peer-connected":
		icon = IconSuccess
	case "connected-to-signaling":
		icon = IconConnect
	case "failed", "disconnected":
		icon = IconError
	}
	b.WriteString(fmt.Sprintf("%s %s\n", icon, StatusStyleFor(m.status).Render(statusLabel(m.status))))

	if m.peer != "" {
		b.WriteString(fmt.Sprintf("%s Peer: %s\n", IconPeer, utils.ShortID(m.peer)))
	}
	if m.errMsg != "" {
		b.WriteString(ErrorStyle.Render(m.errMsg) + "\n")
	}

	elapsed := time.Since(m.startTime)
	line := fmt.Sprintf("%s In room %s", IconTime, utils.FormatTimeDuration(elapsed))
	if !m.connectedAt.IsZero() {
		line += fmt.Sprintf(", talking %s", utils.FormatTimeDuration(time.Since(m.connectedAt)))
	}
	b.WriteString(MutedStyle.Render(line) + "\n")

	b.WriteString("\n" + MutedStyle.Render("Press q to hang up"))

	return b.String()
}

func statusLabel(status string) string {
	switch status {
	case "joined":
		return "Waiting for someone to join..."
	case "peer-connected":
		return "Connected"
	case "failed":
		return "Negotiation failed, waiting for the peer to retry"
	case "disconnected":
		return "Lost connection to the signaling server"
	case "connected-to-signaling":
		return "Connected to signaling server"
	default:
		return status
	}
}
