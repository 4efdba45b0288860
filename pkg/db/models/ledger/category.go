package ledger

import "fmt"

// Category identifies one independently synced event stream. Cursors are keyed on (category, chain).
type Category string

const (
	CategoryJoinExitV2  Category = "JOIN_EXIT_V2"
	CategoryJoinExitV3  Category = "JOIN_EXIT_V3"
	CategoryJoinExitCoW Category = "JOIN_EXIT_COW"
	CategorySwapsV2     Category = "SWAPS_V2"
	CategorySwapsV3     Category = "SWAPS_V3"
	CategorySwapsCoW    Category = "SWAPS_COW"
	CategorySnapshotsV2 Category = "SNAPSHOTS_V2"
	CategorySnapshotsV3 Category = "SNAPSHOTS_V3"
)

// Kind groups categories by the engine that drives them.
type Kind string

const (
	KindJoinExit Kind = "join_exit"
	KindSwap     Kind = "swap"
	KindSnapshot Kind = "snapshot"
)

type categoryInfo struct {
	version int
	kind    Kind
}

var categories = map[Category]categoryInfo{
	CategoryJoinExitV2:  {version: 2, kind: KindJoinExit},
	CategoryJoinExitV3:  {version: 3, kind: KindJoinExit},
	CategoryJoinExitCoW: {version: 1, kind: KindJoinExit},
	CategorySwapsV2:     {version: 2, kind: KindSwap},
	CategorySwapsV3:     {version: 3, kind: KindSwap},
	CategorySwapsCoW:    {version: 1, kind: KindSwap},
	CategorySnapshotsV2: {version: 2, kind: KindSnapshot},
	CategorySnapshotsV3: {version: 3, kind: KindSnapshot},
}

// AllCategories lists every category in a stable order.
func AllCategories() []Category {
	return []Category{
		CategoryJoinExitV2, CategoryJoinExitV3, CategoryJoinExitCoW,
		CategorySwapsV2, CategorySwapsV3, CategorySwapsCoW,
		CategorySnapshotsV2, CategorySnapshotsV3,
	}
}

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if _, ok := categories[c]; !ok {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

func (c Category) Valid() bool {
	_, ok := categories[c]
	return ok
}

// ProtocolVersion returns 1 (CoW AMM), 2 or 3.
func (c Category) ProtocolVersion() int { return categories[c].version }

func (c Category) Kind() Kind { return categories[c].kind }

// CategoriesFor returns the categories of a protocol version, in AllCategories order.
func CategoriesFor(version int) []Category {
	out := make([]Category, 0, 3)
	for _, c := range AllCategories() {
		if c.ProtocolVersion() == version {
			out = append(out, c)
		}
	}
	return out
}

// SnapshotCategory returns the snapshot category for a protocol version.
func SnapshotCategory(version int) (Category, error) {
	switch version {
	case 2:
		return CategorySnapshotsV2, nil
	case 3:
		return CategorySnapshotsV3, nil
	default:
		return "", fmt.Errorf("no snapshot category for protocol version %d", version)
	}
}

// ReenrichCursor names the cursor row holding the re-enrichment watermark of c. An empty
// category covers every event stream of the chain.
func ReenrichCursor(c Category) Category {
	if c == "" {
		return "REENRICH"
	}
	return "REENRICH_" + c
}
