package runtime

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
)

// Duplicate returns an independent copy of inst. Instances implementing
// Duplicator copy themselves; anything else goes through Serialize and
// Deserialize on b.
func Duplicate(ctx context.Context, b Backend, inst Instance) (Instance, error) {
	if d, ok := inst.(Duplicator); ok {
		return d.Duplicate(ctx)
	}
	snap, err := inst.Serialize(ctx)
	if err != nil {
		return nil, err
	}
	return b.Deserialize(ctx, snap)
}

// CarryPolicy decides when Reload carries guest state into a rebuilt image.
type CarryPolicy string

const (
	// CarryIdentical carries state only when the rebuilt image is byte-identical.
	CarryIdentical CarryPolicy = "identical"
	// CarryLayout carries state when the rebuilt image has the same layout
	// fingerprint. Guest data structures may still have changed meaning, so
	// this is best effort.
	CarryLayout CarryPolicy = "layout"
	// CarryReset never carries state.
	CarryReset CarryPolicy = "reset"
)

// ParseCarryPolicy returns the policy with the given name. The empty string
// selects CarryIdentical.
func ParseCarryPolicy(s string) (CarryPolicy, error) {
	switch p := CarryPolicy(s); p {
	case "":
		return CarryIdentical, nil
	case CarryIdentical, CarryLayout, CarryReset:
		return p, nil
	default:
		return "", fmt.Errorf("unknown carry policy %q", s)
	}
}

// Reload instantiates image, carrying the state of old into it when policy
// allows. carried reports whether state was carried. When carrying is not
// allowed, old cannot be serialized, or the carried snapshot is rejected
// with ErrCorruptSnapshot (including ErrLayoutMismatch), Reload falls back
// to a cold Load. old is left open; the caller owns it.
func Reload(ctx context.Context, b Backend, old Instance, image []byte, policy CarryPolicy) (inst Instance, carried bool, err error) {
	if old == nil || policy == CarryReset {
		inst, err = b.Load(ctx, image)
		return inst, false, err
	}

	if snap, ok := carrySnapshot(ctx, old, image, policy); ok {
		inst, err = b.Deserialize(ctx, snap)
		if err == nil {
			return inst, true, nil
		}
		if !errors.Is(err, ErrCorruptSnapshot) {
			return nil, false, err
		}
	}

	inst, err = b.Load(ctx, image)
	return inst, false, err
}

// carrySnapshot rewrites the snapshot of old to describe image. The layout
// fingerprint is kept so the backend can compare it with the new image's.
func carrySnapshot(ctx context.Context, old Instance, image []byte, policy CarryPolicy) ([]byte, bool) {
	raw, err := old.Serialize(ctx)
	if err != nil {
		return nil, false
	}
	s, err := UnmarshalSnapshot(raw, "")
	if err != nil {
		return nil, false
	}

	switch policy {
	case CarryLayout:
		if !bytes.Equal(s.Image, image) {
			s.Image = image
			s.ImageDigest = sha256.Sum256(image)
		}
		return s.Marshal(), true
	default:
		if s.ImageDigest != sha256.Sum256(image) {
			return nil, false
		}
		return raw, true
	}
}
