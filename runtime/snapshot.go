package runtime

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// SnapshotVersion is the only snapshot format version this package reads.
const SnapshotVersion = 1

var snapshotMagic = []byte("VGSN")

// Snapshot is the decoded form of the bytes returned by Instance.Serialize.
type Snapshot struct {
	// Backend identifies the backend and its state layout, e.g. "wazero/1".
	Backend string
	Image   []byte
	// ImageDigest is the sha256 of Image.
	ImageDigest [sha256.Size]byte
	// Layout is the backend's fingerprint of the image's exports, imports and memory.
	Layout  []byte
	Memory  []byte
	Globals []Global
	Ticks   uint64
	Elapsed time.Duration
}

// Global is a named guest global captured in a snapshot.
type Global struct {
	Name  string
	Value uint64
}

const (
	snapFieldVersion protowire.Number = iota + 1
	snapFieldBackend
	snapFieldImage
	snapFieldDigest
	snapFieldLayout
	snapFieldMemory
	snapFieldGlobal
	snapFieldTicks
	snapFieldElapsed
)

// Marshal encodes s. ImageDigest is recomputed from Image.
func (s *Snapshot) Marshal() []byte {
	digest := sha256.Sum256(s.Image)

	b := make([]byte, 0, len(snapshotMagic)+len(s.Image)+len(s.Memory)+128)
	b = append(b, snapshotMagic...)
	b = protowire.AppendTag(b, snapFieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, SnapshotVersion)
	b = appendBytesField(b, snapFieldBackend, []byte(s.Backend))
	b = appendBytesField(b, snapFieldImage, s.Image)
	b = appendBytesField(b, snapFieldDigest, digest[:])
	b = appendBytesField(b, snapFieldLayout, s.Layout)
	b = appendBytesField(b, snapFieldMemory, s.Memory)
	for _, g := range s.Globals {
		var entry []byte
		entry = appendBytesField(entry, 1, []byte(g.Name))
		entry = protowire.AppendTag(entry, 2, protowire.VarintType)
		entry = protowire.AppendVarint(entry, g.Value)
		b = appendBytesField(b, snapFieldGlobal, entry)
	}
	b = protowire.AppendTag(b, snapFieldTicks, protowire.VarintType)
	b = protowire.AppendVarint(b, s.Ticks)
	b = protowire.AppendTag(b, snapFieldElapsed, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.Elapsed))
	return b
}

// UnmarshalSnapshot decodes and verifies a snapshot produced by Marshal.
// backend, when non-empty, must match the recorded backend id. Every
// failure wraps ErrCorruptSnapshot.
func UnmarshalSnapshot(b []byte, backend string) (*Snapshot, error) {
	if !bytes.HasPrefix(b, snapshotMagic) {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptSnapshot)
	}
	b = b[len(snapshotMagic):]

	var (
		s                                  Snapshot
		version                            uint64
		seenVersion, seenImage, seenDigest bool
		digest                             []byte
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, corrupt("field tag", n)
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && (num == snapFieldVersion || num == snapFieldTicks || num == snapFieldElapsed):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, corrupt("varint field", n)
			}
			b = b[n:]
			switch num {
			case snapFieldVersion:
				version, seenVersion = v, true
			case snapFieldTicks:
				s.Ticks = v
			case snapFieldElapsed:
				s.Elapsed = time.Duration(v)
			}
		case typ == protowire.BytesType && num >= snapFieldBackend && num <= snapFieldGlobal:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, corrupt("bytes field", n)
			}
			b = b[n:]
			switch num {
			case snapFieldBackend:
				s.Backend = string(v)
			case snapFieldImage:
				s.Image, seenImage = bytes.Clone(v), true
			case snapFieldDigest:
				digest, seenDigest = v, true
			case snapFieldLayout:
				s.Layout = bytes.Clone(v)
			case snapFieldMemory:
				s.Memory = bytes.Clone(v)
			case snapFieldGlobal:
				g, err := consumeGlobal(v)
				if err != nil {
					return nil, err
				}
				s.Globals = append(s.Globals, g)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, corrupt("unknown field", n)
			}
			b = b[n:]
		}
	}

	switch {
	case !seenVersion:
		return nil, fmt.Errorf("%w: missing format version", ErrCorruptSnapshot)
	case version != SnapshotVersion:
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorruptSnapshot, version)
	case backend != "" && s.Backend != backend:
		return nil, fmt.Errorf("%w: snapshot taken by backend %q, not %q", ErrCorruptSnapshot, s.Backend, backend)
	case !seenImage || len(s.Image) == 0:
		return nil, fmt.Errorf("%w: missing image", ErrCorruptSnapshot)
	case !seenDigest || len(digest) != sha256.Size:
		return nil, fmt.Errorf("%w: missing image digest", ErrCorruptSnapshot)
	}
	copy(s.ImageDigest[:], digest)
	if s.ImageDigest != sha256.Sum256(s.Image) {
		return nil, fmt.Errorf("%w: image digest mismatch", ErrCorruptSnapshot)
	}
	return &s, nil
}

func consumeGlobal(b []byte) (Global, error) {
	var g Global
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return g, corrupt("global tag", n)
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return g, corrupt("global name", n)
			}
			g.Name, b = string(v), b[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return g, corrupt("global value", n)
			}
			g.Value, b = v, b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return g, corrupt("global field", n)
			}
			b = b[n:]
		}
	}
	if g.Name == "" {
		return g, fmt.Errorf("%w: unnamed global", ErrCorruptSnapshot)
	}
	return g, nil
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func corrupt(what string, n int) error {
	return fmt.Errorf("%w: %s: %v", ErrCorruptSnapshot, what, protowire.ParseError(n))
}
