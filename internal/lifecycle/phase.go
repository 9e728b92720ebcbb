package lifecycle

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownPhase   = errors.New("unknown phase")
	ErrInvalidPhases  = errors.New("invalid phase list")
	ErrInvalidBinding = errors.New("invalid unit binding")
)

// Phase is one ordered stage of a build lifecycle.
type Phase string

// None is the absence of a phase. It precedes every phase and stands for
// "nothing cached yet".
const None Phase = ""

// String returns the phase name, or "none" for None.
func (p Phase) String() string {
	if p == None {
		return "none"
	}
	return string(p)
}

// Lifecycle is an immutable total order over phases.
type Lifecycle struct {
	phases []Phase
	index  map[Phase]int
}

// DefaultPhases is the default build lifecycle.
var DefaultPhases = []Phase{
	"validate",
	"initialize",
	"generate-sources",
	"process-sources",
	"generate-resources",
	"process-resources",
	"compile",
	"process-classes",
	"generate-test-sources",
	"process-test-sources",
	"generate-test-resources",
	"process-test-resources",
	"test-compile",
	"process-test-classes",
	"test",
	"prepare-package",
	"package",
	"pre-integration-test",
	"integration-test",
	"post-integration-test",
	"verify",
	"install",
	"deploy",
}

var defaultLifecycle = MustNew(DefaultPhases...)

// Default returns the default build lifecycle.
func Default() *Lifecycle { return defaultLifecycle }

// New builds a Lifecycle from phases in ascending order.
//
// Rejects an empty list, empty names and duplicates.
func New(phases ...Phase) (*Lifecycle, error) {
	if len(phases) == 0 {
		return nil, fmt.Errorf("%w: no phases", ErrInvalidPhases)
	}
	l := &Lifecycle{
		phases: make([]Phase, len(phases)),
		index:  make(map[Phase]int, len(phases)),
	}
	for i, p := range phases {
		if p == None {
			return nil, fmt.Errorf("%w: empty phase name at position %d", ErrInvalidPhases, i)
		}
		if _, dup := l.index[p]; dup {
			return nil, fmt.Errorf("%w: duplicate phase %q", ErrInvalidPhases, p)
		}
		l.phases[i] = p
		l.index[p] = i
	}
	return l, nil
}

// MustNew is New that panics on error. Intended for package-level lifecycles.
func MustNew(phases ...Phase) *Lifecycle {
	l, err := New(phases...)
	if err != nil {
		panic(err)
	}
	return l
}

// Phases returns the phases in ascending order.
func (l *Lifecycle) Phases() []Phase {
	out := make([]Phase, len(l.phases))
	copy(out, l.phases)
	return out
}

// Has reports whether p belongs to the lifecycle. None is not a member.
func (l *Lifecycle) Has(p Phase) bool {
	_, ok := l.index[p]
	return ok
}

// Index returns the position of p. None has index -1.
func (l *Lifecycle) Index(p Phase) (int, error) {
	if p == None {
		return -1, nil
	}
	i, ok := l.index[p]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPhase, string(p))
	}
	return i, nil
}

func (l *Lifecycle) mustIndex(p Phase) int {
	i, err := l.Index(p)
	if err != nil {
		panic(err)
	}
	return i
}

// Compare returns -1, 0 or +1 as a is before, equal to or after b.
// It panics on phases outside the lifecycle.
func (l *Lifecycle) Compare(a, b Phase) int {
	ia, ib := l.mustIndex(a), l.mustIndex(b)
	switch {
	case ia < ib:
		return -1
	case ia > ib:
		return 1
	default:
		return 0
	}
}

// Precedes reports a < b.
func (l *Lifecycle) Precedes(a, b Phase) bool { return l.Compare(a, b) < 0 }

// AtOrBefore reports a <= b.
func (l *Lifecycle) AtOrBefore(a, b Phase) bool { return l.Compare(a, b) <= 0 }

// Max returns the later of a and b.
func (l *Lifecycle) Max(a, b Phase) Phase {
	if l.Precedes(a, b) {
		return b
	}
	return a
}

// Validate returns ErrUnknownPhase if p is neither None nor a lifecycle phase.
func (l *Lifecycle) Validate(p Phase) error {
	_, err := l.Index(p)
	return err
}
