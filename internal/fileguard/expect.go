package fileguard

import "fmt"

type expectMode int

const (
	modeUnset expectMode = iota
	modeAbsent
	modeModified
	modeNoCheck
)

// Expectation is the caller's view of the target before a write.
// The zero value is not a valid expectation; use one of the constructors.
type Expectation struct {
	mode expectMode
	ms   int64
}

// ExpectModified requires the target to exist with this last-modified time (epoch ms).
func ExpectModified(ms int64) Expectation { return Expectation{mode: modeModified, ms: ms} }

// ExpectAbsent requires the target not to exist.
func ExpectAbsent() Expectation { return Expectation{mode: modeAbsent} }

// NoCheck disables the concurrency check so the write always proceeds.
// It defeats the guard's protection and must be chosen explicitly.
func NoCheck() Expectation { return Expectation{mode: modeNoCheck} }

// FromMillis maps the wire form: nil is unset, a value <= 0 is the
// "must not exist" sentinel, anything else is an exact timestamp.
func FromMillis(ms *int64) Expectation {
	if ms == nil {
		return Expectation{}
	}
	if *ms <= 0 {
		return ExpectAbsent()
	}
	return ExpectModified(*ms)
}

// IsSet reports whether the expectation was given at all.
func (e Expectation) IsSet() bool { return e.mode != modeUnset }

func (e Expectation) String() string {
	switch e.mode {
	case modeAbsent:
		return "absent"
	case modeModified:
		return fmt.Sprintf("lastModified=%d", e.ms)
	case modeNoCheck:
		return "no-check"
	default:
		return "unset"
	}
}
