package tui

import (
	"fmt"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vg-engine/vg/protocol"
)

// Draw coordinates are in pixels; one terminal cell covers cellWidth by
// cellHeight of them.
const (
	cellWidth   = 8
	cellHeight  = 16
	consoleRows = 4
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	spriteStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFA657"))

	consoleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type frameMsg struct {
	clear *[4]float32
	draws []protocol.Draw
}

type printMsg string

type soundMsg string

type model struct {
	input *keyboard

	width, height int
	frames        uint64
	clear         *[4]float32
	draws         []protocol.Draw
	console       []string
	sound         string
}

func newModel(input *keyboard) *model {
	return &model{input: input}
}

func (m *model) Init() tea.Cmd {
	return nil
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if k, ok := gameKey(msg); ok {
			m.input.press(k)
			return m, nil
		}
		if key.Matches(msg, keys.quit) {
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.push(protocol.Resize{
			Width:  uint32(max(msg.Width, 0) * cellWidth),
			Height: uint32(max(m.canvasRows(), 0) * cellHeight),
		})

	case tea.MouseMsg:
		var buttons uint32
		if msg.Action != tea.MouseActionRelease && msg.Button >= tea.MouseButtonLeft && msg.Button <= tea.MouseButtonRight {
			buttons = 1 << (msg.Button - tea.MouseButtonLeft)
		}
		m.input.push(protocol.Pointer{
			Pos:     [2]float32{float32(msg.X * cellWidth), float32(msg.Y * cellHeight)},
			Buttons: buttons,
		})

	case frameMsg:
		m.frames++
		if msg.clear != nil {
			m.clear = msg.clear
		}
		m.draws = msg.draws

	case printMsg:
		m.console = append(m.console, string(msg))
		if len(m.console) > consoleRows {
			m.console = m.console[len(m.console)-consoleRows:]
		}

	case soundMsg:
		m.sound = string(msg)
	}
	return m, nil
}

func (m *model) canvasRows() int {
	return m.height - consoleRows - 1
}

func (m *model) View() string {
	rows, cols := m.canvasRows(), m.width
	if rows <= 0 || cols <= 0 {
		return "terminal too small\n"
	}

	canvas := make([][]string, rows)
	for r := range canvas {
		canvas[r] = make([]string, cols)
		for c := range canvas[r] {
			canvas[r][c] = " "
		}
	}
	for _, d := range m.draws {
		col, row := int(d.Pos[0])/cellWidth, int(d.Pos[1])/cellHeight
		if d.Pos[0] < 0 || d.Pos[1] < 0 || col >= cols || row >= rows {
			continue
		}
		canvas[row][col] = spriteStyle.Render(string(glyph(d.Texture)))
	}

	background := lipgloss.NewStyle()
	if m.clear != nil {
		background = background.Background(lipgloss.Color(hexColor(*m.clear)))
	}

	var b strings.Builder
	for _, row := range canvas {
		b.WriteString(background.Render(strings.Join(row, "")))
		b.WriteByte('\n')
	}
	for i := range consoleRows {
		if i < len(m.console) {
			b.WriteString(consoleStyle.Render(truncate(m.console[i], cols)))
		}
		b.WriteByte('\n')
	}

	status := titleStyle.Render("vg") + fmt.Sprintf(" frame %d", m.frames)
	if m.sound != "" {
		status += " ♪ " + m.sound
	}
	b.WriteString(status + "  " + helpStyle.Render(keys.quit.Help().Key+" "+keys.quit.Help().Desc))
	return b.String()
}

// glyph picks the character a texture is drawn with.
func glyph(texture string) rune {
	if texture == "" {
		return '*'
	}
	r, _ := utf8.DecodeRuneInString(path.Base(texture))
	if r == utf8.RuneError || !unicode.IsPrint(r) {
		return '*'
	}
	return r
}

func hexColor(c [4]float32) string {
	channel := func(v float32) uint8 {
		return uint8(min(max(v, 0), 1)*255 + 0.5)
	}
	return fmt.Sprintf("#%02x%02x%02x", channel(c[0]), channel(c[1]), channel(c[2]))
}

func truncate(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	return string([]rune(s)[:width])
}
