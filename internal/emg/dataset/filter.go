// Package dataset loads labelled EMG recordings from disk and turns them
// into training examples.
//
// Recordings are CSV files, one sample per row and one column per channel.
// Labels come from the file name: each RegexFilter extracts the text
// between two bounds and keeps the file only if that text is one of the
// accepted values, so "C_3_R_1_emg.csv" yields classes=3 and reps=1.
package dataset

import (
	"regexp"
	"slices"
	"strconv"
)

// Metadata keys set by DefaultFilters.
const (
	ClassKey = "classes"
	RepKey   = "reps"
)

// RegexFilter selects files by the text between Left and Right.
type RegexFilter struct {
	Left        string
	Right       string
	Values      []string
	Description string // metadata key for the extracted value
}

func (f RegexFilter) pattern() *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(f.Left) + `(.*?)` + regexp.QuoteMeta(f.Right))
}

// Match returns the accepted value embedded in name.
func (f RegexFilter) Match(name string) (string, bool) {
	m := f.pattern().FindStringSubmatch(name)
	if m == nil || !slices.Contains(f.Values, m[1]) {
		return "", false
	}
	return m[1], true
}

// DefaultFilters matches C_<class>_R_<rep>_emg.csv for classes 0..classes-1
// and repetitions 0..reps-1.
func DefaultFilters(classes, reps int) []RegexFilter {
	return []RegexFilter{
		{Left: "C_", Right: "_R", Values: numbered(classes), Description: ClassKey},
		{Left: "R_", Right: "_emg.csv", Values: numbered(reps), Description: RepKey},
	}
}

func numbered(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = strconv.Itoa(i)
	}
	return out
}
