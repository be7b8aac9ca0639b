package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/domain-runtime/core"
	"github.com/wippyai/domain-runtime/iface"
	"github.com/wippyai/domain-runtime/kernel"
	"github.com/wippyai/domain-runtime/sheap"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const refreshInterval = 500 * time.Millisecond

type modelState int

const (
	stateSelectDomain modelState = iota
	stateInputCall
)

type interactiveModel struct {
	ctx      context.Context
	err      error
	sys      *system
	console  *consoleBuffer
	result   string
	info     kernel.Info
	input    textinput.Model
	selected int
	state    modelState
}

type tickMsg time.Time

type callResultMsg struct {
	err    error
	result string
}

func newInteractiveModel(ctx context.Context, sys *system, console *consoleBuffer) *interactiveModel {
	return &interactiveModel{
		ctx:     ctx,
		sys:     sys,
		console: console,
		info:    sys.kernel.Info(),
		state:   stateSelectDomain,
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *interactiveModel) Init() tea.Cmd {
	return tick()
}

func (m *interactiveModel) current() (kernel.DomainInfo, bool) {
	if m.selected < 0 || m.selected >= len(m.info.Domains) {
		return kernel.DomainInfo{}, false
	}
	return m.info.Domains[m.selected], true
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.state == stateInputCall {
			return m.updateInput(msg)
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit

		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.selected < len(m.info.Domains)-1 {
				m.selected++
			}

		case "enter":
			d, ok := m.current()
			if !ok {
				break
			}
			if d.Interface == iface.InvokerInterface {
				m.prepareInput()
				m.state = stateInputCall
				return m, textinput.Blink
			}
			return m, m.probe(d)

		case "r":
			if d, ok := m.current(); ok {
				return m, m.reload(d.Name)
			}
		}

	case tickMsg:
		m.info = m.sys.kernel.Info()
		return m, tick()

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.info = m.sys.kernel.Info()
	}
	return m, nil
}

func (m *interactiveModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.state = stateSelectDomain
		return m, nil
	case "enter":
		m.state = stateSelectDomain
		d, _ := m.current()
		return m, m.invoke(d.Name, m.input.Value())
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *interactiveModel) prepareInput() {
	ti := textinput.New()
	ti.Placeholder = "function arg0 arg1 ..."
	ti.Prompt = "call: "
	ti.Width = 40
	ti.Focus()
	m.input = ti
}

// probe reads block 0 of a block or shadow domain.
func (m *interactiveModel) probe(d kernel.DomainInfo) tea.Cmd {
	k := m.sys.kernel
	return func() tea.Msg {
		h, err := k.GetDomain(m.ctx, d.Name)
		if err != nil {
			return callResultMsg{err: err}
		}
		dev, ok := h.(interface {
			ReadBlock(context.Context, uint64, *sheap.Array[byte]) (*sheap.Array[byte], error)
		})
		if !ok {
			return callResultMsg{err: fmt.Errorf("%s cannot be probed", d.Name)}
		}
		buf, err := newBlock(k, 0)
		if err != nil {
			return callResultMsg{err: err}
		}
		start := time.Now()
		out, err := dev.ReadBlock(m.ctx, 0, buf)
		if err != nil {
			return callResultMsg{err: err}
		}
		return callResultMsg{result: fmt.Sprintf("%s read block 0: %#x in %s", d.Name, out.Slice()[0], time.Since(start))}
	}
}

func (m *interactiveModel) invoke(name, line string) tea.Cmd {
	k := m.sys.kernel
	return func() tea.Msg {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			return callResultMsg{err: fmt.Errorf("no function given")}
		}
		args := make([]uint64, 0, len(fields)-1)
		for _, f := range fields[1:] {
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				return callResultMsg{err: fmt.Errorf("argument %q: %w", f, err)}
			}
			args = append(args, v)
		}

		inv, err := kernel.Get[*iface.InvokerProxy](k, name)
		if err != nil {
			return callResultMsg{err: err}
		}
		words, err := sheap.ArrayOf(k.Scope(), args)
		if err != nil {
			return callResultMsg{err: err}
		}
		res, err := inv.Invoke(m.ctx, fields[0], words)
		if err != nil {
			return callResultMsg{err: err}
		}
		return callResultMsg{result: fmt.Sprintf("%s(%s) = %v", fields[0], strings.Join(fields[1:], ", "), res.Slice())}
	}
}

func (m *interactiveModel) reload(name string) tea.Cmd {
	k := m.sys.kernel
	return func() tea.Msg {
		if err := k.ReloadDomain(m.ctx, name); err != nil {
			return callResultMsg{err: err}
		}
		h, _ := k.GetDomain(m.ctx, name)
		return callResultMsg{result: fmt.Sprintf("%s reloaded as %s", name, domainID(h))}
	}
}

func domainID(h core.Handle) string {
	if h == nil {
		return "?"
	}
	return h.Replaceable().DomainID().String()
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Domain Runtime"))
	b.WriteString(fmt.Sprintf(" %d domains, %d images\n\n", len(m.info.Domains), len(m.info.Images)))

	for i, d := range m.info.Domains {
		state := resultStyle.Render("active")
		if !d.Active {
			state = errorStyle.Render("crashed")
		}
		line := fmt.Sprintf("%-10s %s %-10s gen %-3d calls %-6d crashes %-3d %s",
			nameStyle.Render(d.Name), typeStyle.Render(fmt.Sprintf("%-8s", d.Interface)), d.ID,
			d.Stats.Generation, d.Stats.FastCalls+d.Stats.SlowCalls, d.Stats.Crashes, state)
		if i == m.selected {
			b.WriteString(selectedStyle.Render("> ") + line)
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if m.state == stateInputCall {
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter call • esc back"))
		return b.String()
	}

	switch {
	case m.err != nil:
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	case m.result != "":
		b.WriteString(resultStyle.Render(m.result))
	}
	b.WriteString("\n\n")

	if lines := m.console.Lines(); len(lines) > 0 {
		b.WriteString(helpStyle.Render("console"))
		b.WriteString("\n")
		for _, l := range lines {
			b.WriteString("  " + l + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render("↑/↓ select • enter call • r reload • q quit"))
	return b.String()
}

func runInteractive(ctx context.Context, sys *system, console *consoleBuffer) error {
	p := tea.NewProgram(newInteractiveModel(ctx, sys, console), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
