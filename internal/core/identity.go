package core

import "strconv"

const (
	IdentityCategory      IdentityKind = "category"
	IdentityRecurring     IdentityKind = "recurring"
	IdentityUncategorized IdentityKind = "uncategorized"
	IdentityManual        IdentityKind = "manual"
)

type IdentityKind string

// Identity is the tagged union naming a budgetable target: a category, a
// detected recurring pattern, an uncategorized description cluster, or a
// manual entry by list position. Exactly one field besides Kind is set.
type Identity struct {
	Kind        IdentityKind
	CategoryID  int64
	RecurringID int64
	Key         string
	ManualIndex int
}

func CategoryIdentity(id int64) Identity {
	return Identity{Kind: IdentityCategory, CategoryID: id}
}

func RecurringIdentity(id int64) Identity {
	return Identity{Kind: IdentityRecurring, RecurringID: id}
}

func UncategorizedIdentity(key string) Identity {
	return Identity{Kind: IdentityUncategorized, Key: key}
}

func ManualIdentity(index int) Identity {
	return Identity{Kind: IdentityManual, ManualIndex: index}
}

// StorageID returns the per-kind identifier used by the seen-baseline store.
func (id Identity) StorageID() string {
	switch id.Kind {
	case IdentityCategory:
		return strconv.FormatInt(id.CategoryID, 10)
	case IdentityRecurring:
		return strconv.FormatInt(id.RecurringID, 10)
	case IdentityUncategorized:
		return id.Key
	case IdentityManual:
		return strconv.Itoa(id.ManualIndex)
	default:
		return ""
	}
}

// String returns a stable map key combining kind and identifier.
func (id Identity) String() string {
	return string(id.Kind) + ":" + id.StorageID()
}

// toleranceBps holds the per-kind tolerance band in basis points.
// Subscriptions surface any numeric change; category and uncategorized
// budgets absorb drift up to 20%.
var toleranceBps = map[IdentityKind]int64{
	IdentityRecurring:     0,
	IdentityCategory:      2000,
	IdentityUncategorized: 2000,
	IdentityManual:        2000,
}

// ToleranceBps returns the tolerance band for an identity kind.
func ToleranceBps(kind IdentityKind) int64 {
	return toleranceBps[kind]
}

// Drifts reports whether detected has moved away from base beyond the
// tolerance band. A zero band flags any change; otherwise a relative change
// of exactly the band is already a drift (20.00% flags, 19.99% does not).
func Drifts(detected, base Money, bps int64) bool {
	diff := detected.Cents - base.Cents
	if diff < 0 {
		diff = -diff
	}
	if diff == 0 {
		return false
	}
	if bps == 0 || base.Cents <= 0 {
		return true
	}
	return diff*10000 >= base.Cents*bps
}

// DriftsFor applies the tolerance band configured for the identity's kind.
func DriftsFor(kind IdentityKind, detected, base Money) bool {
	return Drifts(detected, base, ToleranceBps(kind))
}
