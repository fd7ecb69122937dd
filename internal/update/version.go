package update

import (
	"strings"

	v "github.com/hashicorp/go-version"
)

// Relation describes how an offered version relates to the installed one.
// Whether an update applies is decided by string inequality alone; Relation
// only labels the offer for display.
type Relation int

const (
	// RelationUnknown means no offered version was given.
	RelationUnknown Relation = iota
	// RelationSame means the tokens are identical.
	RelationSame
	// RelationUpgrade means both parse and the offer is newer.
	RelationUpgrade
	// RelationDowngrade means both parse and the offer is older.
	RelationDowngrade
	// RelationDifferent means the tokens differ but cannot be ordered.
	RelationDifferent
)

// String returns the string representation of a Relation.
func (r Relation) String() string {
	switch r {
	case RelationSame:
		return "same"
	case RelationUpgrade:
		return "upgrade"
	case RelationDowngrade:
		return "downgrade"
	case RelationDifferent:
		return "different"
	default:
		return "unknown"
	}
}

// Differs reports whether two version tokens name different versions.
// Tokens are opaque and compared after trimming surrounding space.
func Differs(current, offered string) bool {
	return strings.TrimSpace(current) != strings.TrimSpace(offered)
}

// Compare labels offered relative to current.
func Compare(current, offered string) Relation {
	current = strings.TrimSpace(current)
	offered = strings.TrimSpace(offered)
	if offered == "" {
		return RelationUnknown
	}
	if current == offered {
		return RelationSame
	}

	cur, err := v.NewVersion(current)
	if err != nil {
		return RelationDifferent
	}
	off, err := v.NewVersion(offered)
	if err != nil {
		return RelationDifferent
	}
	switch {
	case off.GreaterThan(cur):
		return RelationUpgrade
	case off.LessThan(cur):
		return RelationDowngrade
	default:
		// "1.0" and "1.0.0" parse equal but are different tokens.
		return RelationDifferent
	}
}
