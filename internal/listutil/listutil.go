// Package listutil holds the pure list transformations applied on workflow
// edges: ordering grabbed files by subject and turning zipped lists into
// tuples.
package listutil

import (
	"fmt"
	"strings"
)

// SubjectMarker returns the path fragment that identifies a subject's
// first-level output directory.
func SubjectMarker(subject string) string {
	return fmt.Sprintf("/_subject_id_%s/", subject)
}

// OrderSubjects returns, for each subject in order, the first path in files
// that contains the subject's marker. Subjects without a match are skipped
// and a path is never selected twice.
func OrderSubjects(files, subjects []string) []string {
	out := make([]string, 0, len(subjects))
	taken := make(map[int]struct{}, len(files))
	for _, subject := range subjects {
		marker := SubjectMarker(subject)
		for i, file := range files {
			if _, ok := taken[i]; ok {
				continue
			}
			if strings.Contains(file, marker) {
				out = append(out, file)
				taken[i] = struct{}{}
				break
			}
		}
	}
	return out
}

// ListToTuple converts each inner list into an independent tuple. Element
// order inside each tuple and the order of tuples are preserved.
func ListToTuple(lists [][]string) [][]string {
	out := make([][]string, len(lists))
	for i, inner := range lists {
		tuple := make([]string, len(inner))
		copy(tuple, inner)
		out[i] = tuple
	}
	return out
}

// Pair is a two element tuple, e.g. a volume and its registration file.
type Pair [2]string

// Pairs is the strict two element view of ListToTuple.
func Pairs(lists [][]string) ([]Pair, error) {
	out := make([]Pair, 0, len(lists))
	for i, inner := range ListToTuple(lists) {
		if len(inner) != 2 {
			return nil, fmt.Errorf("element %d: expected a pair, got %d values", i, len(inner))
		}
		out = append(out, Pair{inner[0], inner[1]})
	}
	return out, nil
}
