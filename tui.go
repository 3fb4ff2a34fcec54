package main

import (
	"context"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"livenotes/beep"
	"livenotes/clipboard"
	"livenotes/log"
	"livenotes/transcriber"
)

// controller is the part of pipeline.Pipeline the UI drives.
type controller interface {
	Start(ctx context.Context) error
	Stop()
	Clear()
	State() transcriber.State
	Status() string
	Transcript() (string, time.Time)
}

// TUI message types
type StatusMsg struct {
	State   transcriber.State
	Message string
}
type TranscriptMsg struct {
	Text      string
	UpdatedAt time.Time
}
type actionErrMsg struct{ Err error }
type copiedMsg struct{ Err error }
type tickMsg time.Time

type tuiModel struct {
	ctl        controller
	endpoint   string
	deviceLine string

	state     transcriber.State
	status    string
	text      string
	updatedAt time.Time
	copied    string
	level     float64
	levelSrc  *atomic.Uint64
	autoStop  time.Duration
	silence   *silenceWatch
	noVoice   bool

	width, height int
}

var (
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Bold(true)
	liveStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	idleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	textStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	helpKeyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
)

// programListener forwards pipeline notifications to the running program.
// Audio levels are sampled by the UI tick instead of being sent, so the
// capture goroutine never waits on the UI.
type programListener struct {
	mu    sync.Mutex
	prog  *tea.Program
	level atomic.Uint64
}

func (l *programListener) attach(p *tea.Program) {
	l.mu.Lock()
	l.prog = p
	l.mu.Unlock()
}

func (l *programListener) send(msg tea.Msg) {
	l.mu.Lock()
	p := l.prog
	l.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

func (l *programListener) StatusChanged(st transcriber.State, msg string) {
	switch st {
	case transcriber.Live:
		beep.PlayStart()
	case transcriber.Stopping:
		beep.PlayEnd()
	case transcriber.Failed:
		beep.PlayError()
	}
	l.send(StatusMsg{State: st, Message: msg})
}

func (l *programListener) TranscriptChanged(text string, at time.Time) {
	l.send(TranscriptMsg{Text: text, UpdatedAt: at})
}

func (l *programListener) AudioLevel(rms float64) {
	l.level.Store(math.Float64bits(rms))
}

// NewTUIProgram builds the terminal UI around ctl. A non-zero autoStop ends a
// live stream after that long without voice.
func NewTUIProgram(ctl controller, l *programListener, endpoint, deviceLine string, autoStop time.Duration) *tea.Program {
	m := newTUIModel(ctl, endpoint, deviceLine, &l.level)
	m.autoStop = autoStop
	p := tea.NewProgram(m, tea.WithAltScreen())
	l.attach(p)
	return p
}

func newTUIModel(ctl controller, endpoint, deviceLine string, levelSrc *atomic.Uint64) tuiModel {
	text, at := ctl.Transcript()
	return tuiModel{
		ctl:        ctl,
		endpoint:   endpoint,
		deviceLine: deviceLine,
		state:      ctl.State(),
		status:     ctl.Status(),
		text:       text,
		updatedAt:  at,
		levelSrc:   levelSrc,
	}
}

const tuiTickInterval = 60 * time.Millisecond

func tuiTick() tea.Cmd {
	return tea.Tick(tuiTickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

// Pipeline calls run as commands, off the update loop: Stop waits for the
// capture callback, which may itself be waiting to deliver a message.
func (m tuiModel) startCmd() tea.Cmd {
	ctl := m.ctl
	return func() tea.Msg {
		if err := ctl.Start(context.Background()); err != nil {
			log.Warnf("start failed: %v", err)
			return actionErrMsg{Err: err}
		}
		return nil
	}
}

func (m tuiModel) stopCmd() tea.Cmd {
	ctl := m.ctl
	return func() tea.Msg {
		ctl.Stop()
		return nil
	}
}

func (m tuiModel) clearCmd() tea.Cmd {
	ctl := m.ctl
	return func() tea.Msg {
		ctl.Clear()
		return nil
	}
}

func copyCmd(text string) tea.Cmd {
	return func() tea.Msg {
		return copiedMsg{Err: clipboard.Copy(text)}
	}
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r", "enter":
			m.copied = ""
			return m, m.startCmd()
		case "s", " ":
			return m, m.stopCmd()
		case "c":
			m.copied = ""
			return m, m.clearCmd()
		case "y":
			return m, copyCmd(m.text)
		}

	case tickMsg:
		if m.levelSrc == nil || m.state != transcriber.Live {
			m.level = 0
			return m, tuiTick()
		}
		lvl := math.Float64frombits(m.levelSrc.Load())
		m.level = m.level*0.6 + lvl*0.4
		if m.silence == nil {
			return m, tuiTick()
		}
		switch m.silence.Tick(lvl >= voiceLevel) {
		case silenceWarn:
			m.noVoice = true
		case silenceClear:
			m.noVoice = false
		case silenceAutoStop:
			log.Infof("no voice for %s, stopping", m.autoStop)
			m.silence = nil
			return m, tea.Batch(m.stopCmd(), tuiTick())
		}
		return m, tuiTick()

	case StatusMsg:
		if msg.State == transcriber.Live && m.state != transcriber.Live {
			m.silence = newSilenceWatch(tuiTickInterval, m.autoStop)
		}
		if msg.State != transcriber.Live {
			m.silence = nil
			m.noVoice = false
		}
		m.state = msg.State
		m.status = msg.Message

	case TranscriptMsg:
		m.text = msg.Text
		m.updatedAt = msg.UpdatedAt

	case actionErrMsg:
		m.status = msg.Err.Error()

	case copiedMsg:
		if msg.Err != nil {
			m.copied = "copy failed: " + msg.Err.Error()
		} else {
			m.copied = "[✓ copied]"
		}
	}
	return m, nil
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("livenotes") + " " + dimStyle.Render(version) + "\n")

	if m.state == transcriber.Live || m.state == transcriber.Connecting || m.state == transcriber.Stopping {
		b.WriteString(liveStyle.Render("● "+strings.ToUpper(m.state.String())) + "  " + renderMeter(m.level, 20) + "\n")
	} else {
		b.WriteString(idleStyle.Render("○ "+strings.ToUpper(m.state.String())) + "\n")
	}
	if m.status != "" {
		b.WriteString(infoStyle.Render(m.status) + "\n")
	}
	if m.noVoice {
		b.WriteString(warnStyle.Render("⚠ no voice detected") + "\n")
	}
	b.WriteString(dimStyle.Render(m.deviceLine+" -> "+m.endpoint) + "\n\n")

	wrapWidth := max(m.width-2, 10)
	if m.text == "" {
		b.WriteString(dimStyle.Render("No transcript yet") + "\n")
	} else {
		for _, line := range wrapText(m.text, wrapWidth) {
			b.WriteString(textStyle.Render(line) + "\n")
		}
	}
	b.WriteString("\n")
	if !m.updatedAt.IsZero() {
		b.WriteString(dimStyle.Render(lastUpdateText(m.updatedAt)) + "\n")
	}
	if m.copied != "" {
		style := okStyle
		if strings.HasPrefix(m.copied, "copy failed") {
			style = warnStyle
		}
		b.WriteString(style.Render(m.copied) + "\n")
	}
	b.WriteString("\n" + helpLine() + "\n")

	return lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		PaddingLeft(1).
		Render(b.String())
}

func helpLine() string {
	keys := []struct{ key, desc string }{
		{"r", "record"},
		{"s", "stop"},
		{"c", "clear"},
		{"y", "copy"},
		{"q", "quit"},
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = helpKeyStyle.Render(k.key) + helpStyle.Render(" "+k.desc)
	}
	return strings.Join(parts, helpStyle.Render("  "))
}

func lastUpdateText(t time.Time) string {
	return "Last update: " + t.Format("15:04:05")
}

// renderMeter draws rms as a bar of width cells. Speech sits around 0.05 to
// 0.2 RMS, so the scale is stretched.
func renderMeter(rms float64, width int) string {
	n := int(math.Min(1, rms*5) * float64(width))
	return liveStyle.Render(strings.Repeat("█", n)) + dimStyle.Render(strings.Repeat("░", width-n))
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		// Find last space within width
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}
