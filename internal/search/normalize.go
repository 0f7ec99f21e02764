package search

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// NormalizeQuery trims, collapses inner whitespace and case-folds q so that
// "Red  Cats" and "red cats" share one search history.
func NormalizeQuery(q string) string {
	q = norm.NFKC.String(q)
	q = strings.Join(strings.Fields(q), " ")
	return folder.String(q)
}
