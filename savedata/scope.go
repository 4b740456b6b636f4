package savedata

import "fmt"

// Scope decides how long a value lives and who can see it.
type Scope uint8

const (
	// Global data belongs to the world and is visible to every character.
	Global Scope = iota

	// Slugcat data belongs to one character and persists between cycles.
	Slugcat

	// Cycle data is wiped when the cycle changes, including on sleep.
	Cycle

	scopeCount
)

// Scopes lists every scope in storage order.
func Scopes() []Scope {
	return []Scope{Global, Slugcat, Cycle}
}

func (s Scope) Valid() bool {
	return s < scopeCount
}

func (s Scope) String() string {
	switch s {
	case Global:
		return "global"
	case Slugcat:
		return "slugcat"
	case Cycle:
		return "cycle"
	default:
		return fmt.Sprintf("Scope(%d)", uint8(s))
	}
}
