package tui

import (
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/vg-engine/vg/protocol"
)

// Terminals report key presses and auto-repeats but no releases, so a key
// counts as held until no repeat has arrived for the hold window.
const defaultHold = 600 * time.Millisecond

type keyMap struct {
	quit key.Binding
	game map[protocol.Key]key.Binding
}

var keys = keyMap{
	quit: key.NewBinding(key.WithKeys("ctrl+c", "q"), key.WithHelp("q", "quit")),
	game: map[protocol.Key]key.Binding{
		protocol.KeyW:      key.NewBinding(key.WithKeys("w", "W")),
		protocol.KeyA:      key.NewBinding(key.WithKeys("a", "A")),
		protocol.KeyS:      key.NewBinding(key.WithKeys("s", "S")),
		protocol.KeyD:      key.NewBinding(key.WithKeys("d", "D")),
		protocol.KeySpace:  key.NewBinding(key.WithKeys(" ")),
		protocol.KeyEnter:  key.NewBinding(key.WithKeys("enter")),
		protocol.KeyEscape: key.NewBinding(key.WithKeys("esc")),
		protocol.KeyUp:     key.NewBinding(key.WithKeys("up")),
		protocol.KeyDown:   key.NewBinding(key.WithKeys("down")),
		protocol.KeyLeft:   key.NewBinding(key.WithKeys("left")),
		protocol.KeyRight:  key.NewBinding(key.WithKeys("right")),
	},
}

// gameKey maps a terminal key event to a game key.
func gameKey(msg tea.KeyMsg) (protocol.Key, bool) {
	for k, b := range keys.game {
		if key.Matches(msg, b) {
			return k, true
		}
	}
	return protocol.KeyUnknown, false
}

// keyboard turns terminal key events into KeyState responses and queues
// other input responses until the next poll.
type keyboard struct {
	hold time.Duration
	now  func() time.Time

	mu    sync.Mutex
	held  map[protocol.Key]time.Time
	queue []protocol.Response
}

func newKeyboard(hold time.Duration, now func() time.Time) *keyboard {
	return &keyboard{hold: hold, now: now, held: make(map[protocol.Key]time.Time)}
}

func (k *keyboard) press(code protocol.Key) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.held[code]; !ok {
		k.queue = append(k.queue, protocol.KeyState{Key: code, Pressed: true})
	}
	k.held[code] = k.now()
}

func (k *keyboard) push(r protocol.Response) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.queue = append(k.queue, r)
}

func (k *keyboard) poll() []protocol.Response {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	var released []protocol.Key
	for code, at := range k.held {
		if now.Sub(at) >= k.hold {
			released = append(released, code)
		}
	}
	slices.Sort(released)
	for _, code := range released {
		delete(k.held, code)
		k.queue = append(k.queue, protocol.KeyState{Key: code})
	}

	out := k.queue
	k.queue = nil
	return out
}
