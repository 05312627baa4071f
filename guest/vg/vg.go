// Package vg is the guest-side API for games run by the vg host.
//
// A game installs its main routine with Start, normally from an init
// function, and calls Frame once per frame:
//
//	func init() {
//		vg.Start(func(s *vg.State) {
//			for {
//				s.Clear(0, 0, 0, 1)
//				s.Draw("ferris.png", 100, 100)
//				s.Frame()
//			}
//		})
//	}
//
// The host drives the routine: every tick resumes it until the next Frame.
package vg

import (
	"fmt"
	"log/slog"

	"github.com/vg-engine/vg/guest/executor"
	"github.com/vg-engine/vg/guest/internal/imports"
	"github.com/vg-engine/vg/guest/internal/mem"
	"github.com/vg-engine/vg/guest/logging"
	"github.com/vg-engine/vg/protocol"
)

// State is the guest side of a running game: timing, input and the
// suspended main routine.
type State struct {
	game func(s *State)
	// exec is created on the first tick. A coroutine must be resumed under
	// the same thread locking it was created with, and Start runs from the
	// module's initializer rather than from a tick export.
	exec *executor.Executor
	halt func()

	ticks   uint64
	elapsed float64
	delta   float64

	keys    map[protocol.Key]bool
	width   uint32
	height  uint32
	pointer protocol.Pointer

	logger *logging.Logger
}

// current is the single handle the exported entry points reach the game through.
var current *State

// Start installs game as the guest's main routine. It panics if called twice.
func Start(game func(s *State)) *State {
	if current != nil {
		panic("vg: Start called twice")
	}
	s := &State{
		game:   game,
		keys:   make(map[protocol.Key]bool),
		logger: logging.NewLogger(),
	}
	current = s
	return s
}

// executor returns the executor of the main routine, creating it on first use.
func (s *State) routine() *executor.Executor {
	if s.exec == nil {
		s.exec = executor.New(func(halt func()) {
			s.halt = halt
			s.game(s)
		})
	}
	return s.exec
}

// stop unwinds the main routine if it was ever started.
func (s *State) stop() {
	if s.exec != nil {
		s.exec.Stop()
	}
}

// tick applies the responses the host queued since the previous tick, then
// resumes the game until its next Frame.
func tick(delta float64) {
	s := current
	if s == nil {
		return
	}

	timed := false
	for {
		buf, ok := mem.Pop()
		if !ok {
			break
		}
		r, err := protocol.DecodeResponse(buf)
		if err != nil {
			logging.Warn("dropping malformed response", map[string]string{"error": err.Error()})
			continue
		}
		if s.apply(r) {
			timed = true
		}
	}

	s.ticks++
	if !timed {
		s.delta = delta
		s.elapsed += delta
	}
	s.routine().Run()
}

// apply records r and reports whether it was a Timing response.
func (s *State) apply(r protocol.Response) bool {
	switch r := r.(type) {
	case protocol.KeyState:
		s.keys[r.Key] = r.Pressed
	case protocol.Timing:
		s.delta, s.elapsed = r.Delta, r.Elapsed
		return true
	case protocol.Resize:
		s.width, s.height = r.Width, r.Height
	case protocol.Pointer:
		s.pointer = r
	}
	return false
}

// Frame ends the current frame and suspends the game until the next tick.
func (s *State) Frame() {
	call(protocol.Present{})
	s.halt()
}

// Print writes its operands, formatted as by fmt.Sprint, to the host console.
func (s *State) Print(a ...any) {
	call(protocol.Print{Text: fmt.Sprint(a...)})
}

// Printf is Print with fmt.Sprintf formatting.
func (s *State) Printf(format string, a ...any) {
	call(protocol.Print{Text: fmt.Sprintf(format, a...)})
}

// Clear fills the screen with an RGBA color.
func (s *State) Clear(r, g, b, a float32) {
	call(protocol.Clear{Color: [4]float32{r, g, b, a}})
}

// DrawOption adjusts a Draw call.
type DrawOption func(*protocol.Draw)

// Rotate rotates the texture by radians.
func Rotate(radians float32) DrawOption {
	return func(d *protocol.Draw) { d.Rotation = radians }
}

// Scale scales the texture.
func Scale(x, y float32) DrawOption {
	return func(d *protocol.Draw) { d.Scale = [2]float32{x, y} }
}

// Draw draws a texture at (x, y).
func (s *State) Draw(texture string, x, y float32, opts ...DrawOption) {
	d := protocol.Draw{Texture: texture, Pos: [2]float32{x, y}, Scale: [2]float32{1, 1}}
	for _, opt := range opts {
		opt(&d)
	}
	call(d)
}

// Play starts a sound at the given volume (0..1).
func (s *State) Play(sound string, volume float32) {
	call(protocol.PlaySound{Name: sound, Volume: volume})
}

// Log sends a structured log record to the host logger.
func (s *State) Log(level slog.Level, msg string, attrs ...slog.Attr) {
	s.logger.LogAttrs(level, msg, attrs...)
}

// Pressed reports whether key is held down.
func (s *State) Pressed(key protocol.Key) bool {
	return s.keys[key]
}

// WASD returns the movement direction held on the W, A, S and D keys, with
// y growing downwards. Each component is -1, 0 or 1.
func (s *State) WASD() (x, y float32) {
	if s.Pressed(protocol.KeyA) {
		x--
	}
	if s.Pressed(protocol.KeyD) {
		x++
	}
	if s.Pressed(protocol.KeyW) {
		y--
	}
	if s.Pressed(protocol.KeyS) {
		y++
	}
	return x, y
}

// Time returns the seconds elapsed since the game started.
func (s *State) Time() float64 { return s.elapsed }

// Delta returns the duration of the last frame in seconds.
func (s *State) Delta() float64 { return s.delta }

// Ticks returns the number of ticks run so far, including the current one.
func (s *State) Ticks() uint64 { return s.ticks }

// Size returns the last surface size reported by the host.
func (s *State) Size() (width, height uint32) { return s.width, s.height }

// Pointer returns the last pointer position and button mask reported by the host.
func (s *State) Pointer() (x, y float32, buttons uint32) {
	return s.pointer.Pos[0], s.pointer.Pos[1], s.pointer.Buttons
}

func call(c protocol.Call) {
	imports.Call(protocol.EncodeCall(c))
}
