package render

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jpalmerr/barista/internal/store"
)

// Format controls how fragments are joined into a bar line.
type Format struct {
	// PadLeft is written before the first fragment.
	PadLeft string

	// Separator is written between adjacent fragments, including empty ones,
	// so every slot keeps its position.
	Separator string

	// PadRight is written after the last fragment.
	PadRight string

	// ExpiryPlaceholder, if set, is repeated once per character of an
	// expired value in place of that value. Empty renders expired slots as
	// nothing.
	ExpiryPlaceholder string
}

// DefaultFormat returns the format used when none is configured.
func DefaultFormat() Format {
	return Format{
		PadLeft:   " ",
		Separator: "   ",
		PadRight:  " ",
	}
}

// FragmentState classifies a fragment.
type FragmentState string

const (
	// FragmentFresh holds a value within its TTL.
	FragmentFresh FragmentState = "fresh"

	// FragmentExpired had a value that is now older than its TTL.
	FragmentExpired FragmentState = "expired"

	// FragmentEmpty never received a value since it was last cleared.
	FragmentEmpty FragmentState = "empty"
)

// Fragment is the rendered form of one slot.
type Fragment struct {
	Index int
	Name  string

	// Text is the slot's value when fresh, and empty otherwise.
	Text string

	State FragmentState

	// Width is the character count of the slot's last value, fresh or not.
	Width int
}

// Snapshot is the ordered set of fragments for one tick. It is never mutated
// after it is taken.
type Snapshot struct {
	At        time.Time
	Fragments []Fragment
}

// TakeSnapshot evaluates freshness for every slot at now. Slots must be in
// ascending index order, as returned by [store.Store.GetAll].
func TakeSnapshot(slots []store.Slot, now time.Time) Snapshot {
	snap := Snapshot{At: now, Fragments: make([]Fragment, len(slots))}
	for i, s := range slots {
		f := Fragment{Index: s.Index, Name: s.Name}
		switch {
		case !s.HasValue:
			f.State = FragmentEmpty
		case s.Fresh(now):
			f.State = FragmentFresh
			f.Text = s.Value
			f.Width = utf8.RuneCountInString(s.Value)
		default:
			f.State = FragmentExpired
			f.Width = utf8.RuneCountInString(s.Value)
		}
		snap.Fragments[i] = f
	}
	return snap
}

// Compose joins the snapshot into a single bar line.
func Compose(snap Snapshot, f Format) string {
	var b strings.Builder
	b.WriteString(f.PadLeft)
	for i, frag := range snap.Fragments {
		if i > 0 {
			b.WriteString(f.Separator)
		}
		switch {
		case frag.State == FragmentFresh:
			b.WriteString(frag.Text)
		case frag.State == FragmentExpired && f.ExpiryPlaceholder != "":
			b.WriteString(strings.Repeat(f.ExpiryPlaceholder, frag.Width))
		}
	}
	b.WriteString(f.PadRight)
	return b.String()
}
