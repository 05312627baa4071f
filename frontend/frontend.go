// Package frontend defines the collaborators the engine drives: rendering,
// audio, input and the console. Implementations live in subpackages.
package frontend

import "github.com/vg-engine/vg/protocol"

// Renderer receives the drawing calls of a frame. Present ends the frame.
type Renderer interface {
	Clear(color [4]float32)
	Draw(d protocol.Draw)
	Present() error
}

// Audio plays named sounds.
type Audio interface {
	Play(name string, volume float32)
}

// Input reports what happened since the previous Poll, in order.
type Input interface {
	Poll() []protocol.Response
}

// Console receives guest Print output.
type Console interface {
	Print(text string)
}

// Frontend bundles the collaborators of a single run.
type Frontend interface {
	Renderer
	Audio
	Input
	Console
}

// Closer is implemented by frontends that hold resources, such as a terminal.
type Closer interface {
	Close() error
}

// Names lists the frontends selectable by name.
var Names = []string{"headless", "tui"}
