// Package patient implements the LIDC-IDRI patient identifier convention.
package patient

import (
	"regexp"
	"sort"
	"strings"
)

// Prefix starts every patient identifier in the dataset.
const Prefix = "LIDC-IDRI-"

var idPattern = regexp.MustCompile(`^LIDC-IDRI-[0-9]+$`)

// ID is a patient identifier such as "LIDC-IDRI-0072".
type ID string

// String returns the identifier.
func (id ID) String() string { return string(id) }

// Valid reports whether id follows the naming convention.
func (id ID) Valid() bool { return idPattern.MatchString(string(id)) }

// FileName returns the image filename for id.
func (id ID) FileName() string { return string(id) + ".png" }

// Normalize turns a bare or partial identifier ("0072") into its full form.
// Identifiers that already carry the prefix are returned unchanged.
func Normalize(raw string) ID {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, Prefix) {
		return ID(raw)
	}
	return ID(Prefix + raw)
}

// Candidates returns the directory names that follow the naming convention,
// sorted. Duplicates are dropped.
func Candidates(names []string) []ID {
	seen := make(map[string]bool, len(names))
	ids := make([]ID, 0, len(names))
	for _, name := range names {
		if seen[name] || !ID(name).Valid() {
			continue
		}
		seen[name] = true
		ids = append(ids, ID(name))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
