// The table below is a perfect hash over the closed action verb set: eight
// verbs in 32 slots. `go generate ./internal/dispatch` runs gen/main.go,
// which prints a collision-free size, multiplier pair, and slot listing for
// its verb list to stdout; it does not rewrite this file. The
// collision-freedom of the hash is asserted by TestVerbTableIsPerfect.

package dispatch

// Verb is one of the fixed action verbs the dispatcher understands.
type Verb string

const (
	VerbSearch    Verb = "search"
	VerbExecute   Verb = "execute"
	VerbInit      Verb = "init"
	VerbCleanup   Verb = "cleanup"
	VerbRefresh   Verb = "refresh"
	VerbConfigure Verb = "configure"
	VerbValidate  Verb = "validate"
	VerbStatus    Verb = "status"
)

// verbTableSize is the hash range; slots not listed hold the empty string.
const verbTableSize = 32

// verbHash maps a candidate verb into the table. With these constants the
// eight verbs occupy distinct slots.
func verbHash(v string) uint32 {
	return (31*uint32(v[0]) + 7*uint32(v[len(v)-1]) + uint32(len(v))) & (verbTableSize - 1)
}

// verbTable holds each verb at its hash slot.
var verbTable = [verbTableSize]Verb{
	5:  VerbExecute,
	7:  VerbInit,
	9:  VerbConfigure,
	11: VerbSearch,
	13: VerbRefresh,
	20: VerbCleanup,
	21: VerbValidate,
	24: VerbStatus,
}

// KnownVerb reports whether v is in the closed verb set, in O(1) and
// without touching any registry.
func KnownVerb(v string) bool {
	if len(v) == 0 {
		return false
	}
	return string(verbTable[verbHash(v)]) == v
}

// Verbs returns the closed verb set.
func Verbs() []Verb {
	return []Verb{
		VerbSearch, VerbExecute, VerbInit, VerbCleanup,
		VerbRefresh, VerbConfigure, VerbValidate, VerbStatus,
	}
}
