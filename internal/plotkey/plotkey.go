// Package plotkey normalizes the plot identifiers found across the
// store.  Plots have a storage id ("1") and a display name ("Plot 77");
// historical ownership rows reference either the storage id or the
// display number, as integers or strings.  Every store boundary goes
// through Resolve and Aliases so that no other code guesses ids.
package plotkey

import (
	"sort"
	"strconv"
	"strings"

	"github.com/gosimple/slug"
)

// Key is the canonical storage id of a plot.
type Key string

// String returns the key as stored in the plots table.
func (k Key) String() string { return string(k) }

// Entry is one row of the naming table.
type Entry struct {
	StorageID   string
	DisplayName string
}

// DefaultTable is the storage id -> display name mapping used by the
// production data set.  It is configuration, not logic.
var DefaultTable = []Entry{
	{StorageID: "1", DisplayName: "Plot 77"},
	{StorageID: "2", DisplayName: "Plot 78"},
	{StorageID: "3", DisplayName: "Plot 79"},
	{StorageID: "4", DisplayName: "Plot 4"},
	{StorageID: "5", DisplayName: "Plot 5"},
}

// Naming resolves raw plot references to canonical keys.
type Naming struct {
	entries   []Entry
	byStorage map[string]Entry
	byDisplay map[string]string // display number or slug -> storage id
}

// NewNaming builds a Naming from a table.  Later entries override
// earlier ones with the same storage id.
func NewNaming(table []Entry) *Naming {
	n := &Naming{
		byStorage: make(map[string]Entry, len(table)),
		byDisplay: make(map[string]string, len(table)*2),
	}
	for _, e := range table {
		id := canonicalNumber(strings.TrimSpace(e.StorageID))
		if id == "" {
			continue
		}
		e.StorageID = id
		if e.DisplayName == "" {
			e.DisplayName = "Plot " + id
		}
		n.byStorage[id] = e
		s := slug.Make(e.DisplayName)
		n.byDisplay[s] = id
		if num := stripPlotPrefix(s); num != "" {
			n.byDisplay[num] = id
		}
	}
	for _, e := range n.byStorage {
		n.entries = append(n.entries, e)
	}
	sort.Slice(n.entries, func(i, j int) bool { return lessID(n.entries[i].StorageID, n.entries[j].StorageID) })
	return n
}

// Default returns a Naming over DefaultTable.
func Default() *Naming { return NewNaming(DefaultTable) }

// Resolve maps a raw reference ("1", "77", "Plot 77", "plot-77", " 01 ")
// to its canonical key.  A bare number is a storage id when such a plot
// exists, otherwise a display number.  A reference carrying an explicit
// "plot" prefix is matched against display names first.  The second
// return value is false when the reference matches no known plot; the
// returned key is then the cleaned reference itself.
func (n *Naming) Resolve(raw string) (Key, bool) {
	s := slug.Make(strings.TrimSpace(raw))
	if s == "" {
		return "", false
	}
	explicitDisplay := strings.HasPrefix(s, "plot-") || strings.HasPrefix(s, "plot")
	if explicitDisplay {
		if id, ok := n.byDisplay[s]; ok {
			return Key(id), true
		}
	}
	num := canonicalNumber(stripPlotPrefix(s))
	if num == "" {
		num = s
	}
	if !explicitDisplay {
		if _, ok := n.byStorage[num]; ok {
			return Key(num), true
		}
	}
	if id, ok := n.byDisplay[num]; ok {
		return Key(id), true
	}
	if _, ok := n.byStorage[num]; ok {
		return Key(num), true
	}
	return Key(num), false
}

// Aliases returns every representation under which ownership rows may
// reference the plot: the storage id and the display number.  The
// canonical id is always first.
func (n *Naming) Aliases(k Key) []string {
	out := []string{string(k)}
	e, ok := n.byStorage[string(k)]
	if !ok {
		return out
	}
	if num := stripPlotPrefix(slug.Make(e.DisplayName)); num != "" && num != string(k) {
		out = append(out, num)
	}
	return out
}

// DisplayName returns the human label for k, or "Plot <k>" when the
// naming table has no entry.
func (n *Naming) DisplayName(k Key) string {
	if e, ok := n.byStorage[string(k)]; ok {
		return e.DisplayName
	}
	return "Plot " + string(k)
}

// Known reports whether k is a storage id in the naming table.
func (n *Naming) Known(k Key) bool {
	_, ok := n.byStorage[string(k)]
	return ok
}

// Entries returns the naming table ordered by storage id.
func (n *Naming) Entries() []Entry {
	out := make([]Entry, len(n.entries))
	copy(out, n.entries)
	return out
}

func stripPlotPrefix(s string) string {
	s = strings.TrimPrefix(s, "plot-")
	s = strings.TrimPrefix(s, "plot")
	return strings.Trim(s, "-")
}

// canonicalNumber drops leading zeros from purely numeric ids.
func canonicalNumber(s string) string {
	if s == "" {
		return ""
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return strconv.FormatUint(n, 10)
	}
	return s
}

func lessID(a, b string) bool {
	ai, errA := strconv.Atoi(a)
	bi, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return ai < bi
	}
	return a < b
}

// Less orders keys numerically when both are numbers, lexically otherwise.
func Less(a, b Key) bool { return lessID(string(a), string(b)) }
