package protocol

import "fmt"

// Key is a keyboard key understood by every frontend.
type Key uint32

const (
	KeyUnknown Key = iota
	KeyW
	KeyA
	KeyS
	KeyD
	KeySpace
	KeyEscape
	KeyEnter
	KeyUp
	KeyDown
	KeyLeft
	KeyRight

	keyCount
)

var keyNames = [...]string{
	KeyUnknown: "unknown",
	KeyW:       "w",
	KeyA:       "a",
	KeyS:       "s",
	KeyD:       "d",
	KeySpace:   "space",
	KeyEscape:  "escape",
	KeyEnter:   "enter",
	KeyUp:      "up",
	KeyDown:    "down",
	KeyLeft:    "left",
	KeyRight:   "right",
}

// Valid reports whether k is one of the defined key constants.
func (k Key) Valid() bool {
	return k < keyCount
}

func (k Key) String() string {
	if !k.Valid() {
		return fmt.Sprintf("key(%d)", uint32(k))
	}
	return keyNames[k]
}

// ParseKey returns the key with the given name.
func ParseKey(name string) (Key, bool) {
	for k, n := range keyNames {
		if n == name {
			return Key(k), true
		}
	}
	return KeyUnknown, false
}
