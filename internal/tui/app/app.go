package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/osd-bridge/osdbridge/internal/tui/client"
	"github.com/osd-bridge/osdbridge/internal/tui/status"
	"github.com/osd-bridge/osdbridge/internal/tui/theme"
)

const (
	volumeStep = 5
	maxVolume  = 150
)

// CommandSender delivers commands to the bridge.
type CommandSender interface {
	SendCommand(subsystem string, cmd client.Command) error
}

// commandResultMsg reports the outcome of a command request.
type commandResultMsg struct {
	desc string
	err  error
}

type row struct {
	subsystem string
	id        string
}

// Model is the root Bubble Tea model.
type Model struct {
	ws     *client.WSClient
	sender CommandSender
	ctx    context.Context
	cancel context.CancelFunc

	keys   KeyMap
	help   help.Model
	width  int
	height int

	subsystems map[string]*client.Subsystem
	rows       []row

	selectedIdx int
	statusBar   status.Model
}

// New creates the root model.
func New(ws *client.WSClient, sender CommandSender) Model {
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		ws:         ws,
		sender:     sender,
		ctx:        ctx,
		cancel:     cancel,
		keys:       DefaultKeyMap(),
		help:       help.New(),
		subsystems: make(map[string]*client.Subsystem),
		statusBar:  status.New(),
	}
}

// Init starts the WebSocket connection.
func (m Model) Init() tea.Cmd {
	return m.ws.Listen(m.ctx)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case client.WSConnectedMsg:
		m.statusBar.Connected = true
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSDisconnectedMsg:
		m.statusBar.Connected = false
		return m, m.ws.Listen(m.ctx)

	case client.WSSnapshotMsg:
		m.subsystems = make(map[string]*client.Subsystem, len(msg.Payload.Subsystems))
		for _, sub := range msg.Payload.Subsystems {
			sub := sub
			if sub.Signals == nil {
				sub.Signals = make(map[string]any)
			}
			m.subsystems[sub.Name] = &sub
			m.statusBar.SetHealth(sub.Health)
		}
		m.rebuildRows()
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSEventMsg:
		m.applyEvent(msg.Payload)
		m.rebuildRows()
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSHealthMsg:
		for _, h := range msg.Payload.Subsystems {
			m.statusBar.SetHealth(h)
		}
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSErrorMsg:
		m.statusBar.Message = "error: " + msg.Payload.Message
		return m, m.ws.ReadLoop(m.ctx)

	case commandResultMsg:
		if msg.err != nil {
			m.statusBar.Message = msg.err.Error()
		} else {
			m.statusBar.Message = msg.desc
		}
		return m, nil
	}

	return m, nil
}

func (m *Model) applyEvent(ev client.Event) {
	sub, ok := m.subsystems[ev.Subsystem]
	if !ok {
		sub = &client.Subsystem{Name: ev.Subsystem, Signals: make(map[string]any)}
		m.subsystems[ev.Subsystem] = sub
	}
	switch ev.Kind {
	case client.EventAdded, client.EventUpdated:
		sub.Upsert(client.Object{ID: ev.DomainID, Record: ev.Record, UpdatedAt: ev.Time})
	case client.EventRemoved:
		sub.Remove(ev.DomainID)
	case client.EventSignal:
		sub.Signals[ev.Signal] = ev.Value
	case client.EventSessionStarted:
		sub.Reset()
	case client.EventSessionError:
		sub.Reset()
		m.statusBar.Message = fmt.Sprintf("%s: %s", ev.Subsystem, ev.Reason)
	case client.EventCommandDropped:
		m.statusBar.Message = fmt.Sprintf("%s dropped %s", ev.Subsystem, ev.Reason)
	}
}

func (m *Model) rebuildRows() {
	names := make([]string, 0, len(m.subsystems))
	for name := range m.subsystems {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]row, 0, len(m.rows))
	for _, name := range names {
		for _, obj := range m.subsystems[name].Objects {
			rows = append(rows, row{subsystem: name, id: obj.ID})
		}
	}
	m.rows = rows
	if m.selectedIdx >= len(m.rows) {
		m.selectedIdx = max(0, len(m.rows)-1)
	}
	m.statusBar.Objects = len(m.rows)
}

func (m Model) selected() (string, client.Object, bool) {
	if m.selectedIdx >= len(m.rows) {
		return "", client.Object{}, false
	}
	r := m.rows[m.selectedIdx]
	for _, obj := range m.subsystems[r.subsystem].Objects {
		if obj.ID == r.id {
			return r.subsystem, obj, true
		}
	}
	return "", client.Object{}, false
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancel()
		m.ws.Close()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil

	case key.Matches(msg, m.keys.Down):
		if len(m.rows) > 0 {
			m.selectedIdx = (m.selectedIdx + 1) % len(m.rows)
		}
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if len(m.rows) > 0 {
			m.selectedIdx = (m.selectedIdx - 1 + len(m.rows)) % len(m.rows)
		}
		return m, nil

	case key.Matches(msg, m.keys.VolumeUp):
		return m, m.stepVolume(volumeStep)

	case key.Matches(msg, m.keys.VolumeDown):
		return m, m.stepVolume(-volumeStep)

	case key.Matches(msg, m.keys.Mute):
		sub, obj, ok := m.selected()
		if !ok {
			return m, nil
		}
		muted, ok := obj.Record.Bool("mute")
		if !ok {
			return m, nil
		}
		return m, m.send(sub, client.Command{Op: "set", Target: obj.ID, Control: "mute", Value: boolValue(!muted)})

	case key.Matches(msg, m.keys.Block):
		sub, obj, ok := m.selected()
		if !ok {
			return m, nil
		}
		soft, ok := obj.Record.Bool("soft")
		if !ok {
			return m, nil
		}
		return m, m.send(sub, client.Command{Op: "set", Target: obj.ID, Control: "soft_block", Value: boolValue(!soft)})

	case key.Matches(msg, m.keys.Airplane):
		rf, ok := m.subsystems["rfkill"]
		if !ok {
			return m, nil
		}
		on, _ := rf.Signals["airplane_mode"].(bool)
		return m, m.send("rfkill", client.Command{Op: "set", Control: "soft_block", Value: boolValue(!on)})

	case key.Matches(msg, m.keys.Rescan):
		var cmds []tea.Cmd
		if sub, _, ok := m.selected(); ok {
			cmds = append(cmds, m.send(sub, client.Command{Op: "rescan"}))
		} else {
			for name := range m.subsystems {
				cmds = append(cmds, m.send(name, client.Command{Op: "rescan"}))
			}
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m Model) stepVolume(delta float64) tea.Cmd {
	sub, obj, ok := m.selected()
	if !ok {
		return nil
	}
	vol, ok := obj.Record.Number("volume")
	if !ok {
		return nil
	}
	target := max(0, min(vol+delta, maxVolume))
	if target == vol {
		return nil
	}
	return m.send(sub, client.Command{Op: "set", Target: obj.ID, Control: "volume", Value: target})
}

func (m Model) send(subsystem string, cmd client.Command) tea.Cmd {
	sender := m.sender
	return func() tea.Msg {
		desc := fmt.Sprintf("%s: %s", subsystem, cmd.Op)
		if cmd.Control != "" {
			target := cmd.Target
			if target == "" {
				target = "*"
			}
			desc = fmt.Sprintf("%s: %s %s=%g", subsystem, target, cmd.Control, cmd.Value)
		}
		return commandResultMsg{desc: desc, err: sender.SendCommand(subsystem, cmd)}
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	sections := []string{m.statusBar.View()}

	names := make([]string, 0, len(m.subsystems))
	for name := range m.subsystems {
		names = append(names, name)
	}
	sort.Strings(names)

	idx := 0
	for _, name := range names {
		sub := m.subsystems[name]
		sections = append(sections, renderHeader(sub))
		if len(sub.Objects) == 0 {
			sections = append(sections, theme.StyleDimmed.Render("  no objects"))
		}
		for _, obj := range sub.Objects {
			prefix := "  "
			if idx == m.selectedIdx {
				prefix = "> "
			}
			line := prefix + describe(obj)
			if idx == m.selectedIdx {
				line = theme.StyleSelected.Render(line)
			}
			sections = append(sections, line)
			idx++
		}
	}

	sections = append(sections, "", m.help.View(m.keys))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func renderHeader(sub *client.Subsystem) string {
	title := lipgloss.NewStyle().Bold(true).Foreground(theme.SubsystemColor(sub.Name)).Render(strings.ToUpper(sub.Name))

	keys := make([]string, 0, len(sub.Signals))
	for k := range sub.Signals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, sub.Signals[k]))
	}
	if len(parts) == 0 {
		return title
	}
	return title + "  " + theme.StyleDimmed.Render(strings.Join(parts, "  "))
}

// describe renders one object line from whichever well-known record
// fields it carries.
func describe(obj client.Object) string {
	r := obj.Record
	label := obj.ID
	for _, k := range []string{"description", "node_description", "name", "node_name"} {
		if s := r.String(k); s != "" {
			label = s
			break
		}
	}
	if len(label) > 36 {
		label = label[:35] + "…"
	}
	label = fmt.Sprintf("%-36s", label)

	var details []string
	if vol, ok := r.Number("volume"); ok {
		details = append(details, theme.LevelBar(vol, 20), fmt.Sprintf("%3.0f%%", vol))
	}
	if muted, _ := r.Bool("mute"); muted {
		details = append(details, lipgloss.NewStyle().Foreground(theme.ColorWarning).Render("muted"))
	}
	soft, hasSoft := r.Bool("soft")
	hard, _ := r.Bool("hard")
	switch {
	case hard:
		details = append(details, lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("hard-blocked"))
	case soft:
		details = append(details, lipgloss.NewStyle().Foreground(theme.ColorWarning).Render("blocked"))
	case hasSoft:
		details = append(details, lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("on"))
	}
	if st := r.String("state"); st != "" && !hasSoft {
		details = append(details, theme.StyleDimmed.Render(st))
	}
	if p := r.String("active_profile"); p != "" {
		details = append(details, theme.StyleDimmed.Render(p))
	}
	return label + " " + strings.Join(details, " ")
}
