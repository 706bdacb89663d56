package listing

import (
	"sort"
	"strings"
	"unicode"
)

// SortField selects the entry attribute to sort by.
type SortField string

const (
	SortByName     SortField = "name"
	SortBySize     SortField = "size"
	SortByType     SortField = "type"
	SortByModified SortField = "modified"
	SortByCreated  SortField = "created"
)

// SortDir is the sort direction. DirNone means the default stable ordering:
// directories before files, then natural-order names.
type SortDir string

const (
	DirNone SortDir = ""
	DirAsc  SortDir = "asc"
	DirDesc SortDir = "desc"
)

// SortSpec pairs a field with a direction.
type SortSpec struct {
	Field SortField
	Dir   SortDir
}

// ParseSortField returns the sort field for a query parameter name, if any.
func ParseSortField(name string) (SortField, bool) {
	switch SortField(name) {
	case SortByName, SortBySize, SortByType, SortByModified, SortByCreated:
		return SortField(name), true
	}
	return "", false
}

// ParseSortDir parses "asc"/"desc"; anything else is DirNone.
func ParseSortDir(v string) SortDir {
	switch strings.ToLower(v) {
	case "asc":
		return DirAsc
	case "desc":
		return DirDesc
	}
	return DirNone
}

// sortEntries sorts in place. Directories always precede files regardless of
// field; within a type, the field ordering applies and ties fall back to
// natural-order names.
func sortEntries(entries []Entry, spec SortSpec) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := &entries[i], &entries[j]
		if a.IsDir() != b.IsDir() {
			return a.IsDir()
		}

		c := compareField(a, b, spec.Field)
		if spec.Dir == DirDesc {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
		return naturalCompare(a.Name, b.Name) < 0
	})
}

// compareField compares two same-type entries by the given field. Missing
// values compare as zero, never as an error.
func compareField(a, b *Entry, field SortField) int {
	switch field {
	case SortByName:
		return naturalCompare(a.Name, b.Name)
	case SortBySize:
		return compareInt64(a.Size, b.Size)
	case SortByType:
		return strings.Compare(a.Kind, b.Kind)
	case SortByModified:
		return compareInt64(a.Modified.UnixNano(), b.Modified.UnixNano())
	case SortByCreated:
		return compareInt64(a.Created.UnixNano(), b.Created.UnixNano())
	default:
		return naturalCompare(a.Name, b.Name)
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// naturalCompare orders strings the way a human reads file names: runs of
// digits compare numerically ("track9" before "track10"), everything else
// compares case-insensitively with a case-sensitive tiebreak.
func naturalCompare(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	i, j := 0, 0

	for i < len(ra) && j < len(rb) {
		ca, cb := ra[i], rb[j]

		if unicode.IsDigit(ca) && unicode.IsDigit(cb) {
			// Compare the full digit runs numerically.
			si, sj := i, j
			for i < len(ra) && unicode.IsDigit(ra[i]) {
				i++
			}
			for j < len(rb) && unicode.IsDigit(rb[j]) {
				j++
			}
			na := strings.TrimLeft(string(ra[si:i]), "0")
			nb := strings.TrimLeft(string(rb[sj:j]), "0")
			if len(na) != len(nb) {
				return len(na) - len(nb)
			}
			if c := strings.Compare(na, nb); c != 0 {
				return c
			}
			// Equal values; shorter (fewer leading zeros) run first.
			if c := (i - si) - (j - sj); c != 0 {
				return c
			}
			continue
		}

		la, lb := unicode.ToLower(ca), unicode.ToLower(cb)
		if la != lb {
			if la < lb {
				return -1
			}
			return 1
		}
		i++
		j++
	}

	if rest := (len(ra) - i) - (len(rb) - j); rest != 0 {
		return rest
	}
	// Case-sensitive tiebreak keeps the order deterministic.
	return strings.Compare(a, b)
}
