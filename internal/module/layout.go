package module

import (
	"errors"
	"fmt"

	"github.com/roach88/stablecall/internal/ir"
)

// ErrIncompatibleLayout is returned by CheckLayout.
var ErrIncompatibleLayout = errors.New("incompatible storage layout")

// CheckLayout reports whether next may take over a frame written by prev:
// prev must be a prefix of next, field for field, with equal names and
// types. Appending fields is the only permitted change.
//
// The prefix is compared by layout fingerprint; the field-level walk only
// runs to name the first mismatch.
func CheckLayout(prev, next []ir.Field) error {
	if len(next) < len(prev) {
		return fmt.Errorf("%w: %d fields shrink to %d", ErrIncompatibleLayout, len(prev), len(next))
	}

	want, err := ir.LayoutFingerprint(prev)
	if err != nil {
		return err
	}
	got, err := ir.LayoutFingerprint(next[:len(prev)])
	if err != nil {
		return err
	}
	if want == got {
		return nil
	}

	for i, f := range prev {
		if next[i] != f {
			return fmt.Errorf("%w: field %d was %s %s, now %s %s",
				ErrIncompatibleLayout, i, f.Name, f.Type, next[i].Name, next[i].Type)
		}
	}
	return fmt.Errorf("%w: fingerprint mismatch", ErrIncompatibleLayout)
}
