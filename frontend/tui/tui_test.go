package tui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vg-engine/vg/protocol"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestKeyboardHoldAndRelease(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	kb := newKeyboard(100*time.Millisecond, clock.Now)

	kb.press(protocol.KeyW)
	kb.press(protocol.KeyW)
	kb.press(protocol.KeyD)
	assert.Equal(t, []protocol.Response{
		protocol.KeyState{Key: protocol.KeyW, Pressed: true},
		protocol.KeyState{Key: protocol.KeyD, Pressed: true},
	}, kb.poll())

	// A repeat keeps W held.
	clock.now = clock.now.Add(60 * time.Millisecond)
	kb.press(protocol.KeyW)
	assert.Empty(t, kb.poll())

	clock.now = clock.now.Add(60 * time.Millisecond)
	assert.Equal(t, []protocol.Response{protocol.KeyState{Key: protocol.KeyD}}, kb.poll())

	clock.now = clock.now.Add(60 * time.Millisecond)
	assert.Equal(t, []protocol.Response{protocol.KeyState{Key: protocol.KeyW}}, kb.poll())
	assert.Empty(t, kb.poll())
}

func TestGameKeys(t *testing.T) {
	tests := []struct {
		msg  tea.KeyMsg
		want protocol.Key
		ok   bool
	}{
		{runes("w"), protocol.KeyW, true},
		{runes("D"), protocol.KeyD, true},
		{tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}, protocol.KeySpace, true},
		{tea.KeyMsg{Type: tea.KeyUp}, protocol.KeyUp, true},
		{tea.KeyMsg{Type: tea.KeyEnter}, protocol.KeyEnter, true},
		{tea.KeyMsg{Type: tea.KeyEsc}, protocol.KeyEscape, true},
		{runes("x"), protocol.KeyUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.msg.String(), func(t *testing.T) {
			got, ok := gameKey(tt.msg)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestModelInput(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	kb := newKeyboard(time.Second, clock.Now)
	m := newModel(kb)

	_, cmd := m.Update(tea.WindowSizeMsg{Width: 40, Height: 15})
	assert.Nil(t, cmd)
	_, cmd = m.Update(runes("a"))
	assert.Nil(t, cmd)
	m.Update(tea.MouseMsg{X: 2, Y: 3, Action: tea.MouseActionPress, Button: tea.MouseButtonLeft})

	assert.Equal(t, []protocol.Response{
		protocol.Resize{Width: 40 * cellWidth, Height: 10 * cellHeight},
		protocol.KeyState{Key: protocol.KeyA, Pressed: true},
		protocol.Pointer{Pos: [2]float32{2 * cellWidth, 3 * cellHeight}, Buttons: 1},
	}, kb.poll())

	_, cmd = m.Update(runes("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestModelView(t *testing.T) {
	m := newModel(newKeyboard(time.Second, time.Now))
	assert.Equal(t, "terminal too small\n", m.View())

	m.Update(tea.WindowSizeMsg{Width: 20, Height: 10})
	m.Update(frameMsg{
		clear: &[4]float32{0, 0, 0, 1},
		draws: []protocol.Draw{
			{Texture: "assets/ferris.png", Pos: [2]float32{16, 32}},
			{Texture: "offscreen.png", Pos: [2]float32{-8, 0}},
		},
	})
	m.Update(printMsg("hello"))
	m.Update(soundMsg("cat.ogg"))

	view := m.View()
	lines := strings.Split(view, "\n")
	require.Len(t, lines, 10)
	assert.Contains(t, lines[2], "f")
	for _, line := range lines[:5] {
		assert.NotContains(t, line, "o")
	}
	assert.Contains(t, lines[5], "hello")
	assert.Contains(t, lines[9], "frame 1")
	assert.Contains(t, lines[9], "cat.ogg")
}

func TestConsoleKeepsLastLines(t *testing.T) {
	m := newModel(newKeyboard(time.Second, time.Now))
	for _, s := range []string{"1", "2", "3", "4", "5", "6"} {
		m.Update(printMsg(s))
	}
	assert.Equal(t, []string{"3", "4", "5", "6"}, m.console)
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "#ff0080", hexColor([4]float32{1, 0, 0.5, 1}))
	assert.Equal(t, "#000000", hexColor([4]float32{-1, -2, -3, 1}))
	assert.Equal(t, 'f', glyph("sprites/ferris.png"))
	assert.Equal(t, '*', glyph(""))
	assert.Equal(t, "abc", truncate("abcdef", 3))
}

func TestFrontendOverPipes(t *testing.T) {
	var out bytes.Buffer
	f, err := New(WithIO(strings.NewReader(""), &out))
	require.NoError(t, err)
	f.Start()

	f.Clear([4]float32{0, 0, 0, 1})
	f.Draw(protocol.Draw{Texture: "ferris.png"})
	require.NoError(t, f.Present())
	f.Print("hi")

	require.NoError(t, f.Close())
	select {
	case <-f.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("program did not exit")
	}
}
