package l5motion

// MajorityVote smooths a class stream by reporting the most frequent class
// of the last n decisions. Ties go to the most recent of the tied classes.
// It is not safe for concurrent use.
type MajorityVote struct {
	history []string
	next    int
	filled  int
}

// NewMajorityVote returns a vote over n decisions. n <= 1 passes classes
// through unchanged.
func NewMajorityVote(n int) *MajorityVote {
	if n < 1 {
		n = 1
	}
	return &MajorityVote{history: make([]string, n)}
}

// Len returns the vote length.
func (v *MajorityVote) Len() int { return len(v.history) }

// Add records class and returns the current majority.
func (v *MajorityVote) Add(class string) string {
	n := len(v.history)
	v.history[v.next] = class
	v.next = (v.next + 1) % n
	if v.filled < n {
		v.filled++
	}
	if n == 1 {
		return class
	}

	counts := make(map[string]int, v.filled)
	best, bestCount := class, 0
	// Walk newest to oldest so the first class to reach the top count is
	// the most recent among equals.
	for i := 0; i < v.filled; i++ {
		c := v.history[(v.next-1-i+n)%n]
		counts[c]++
	}
	for i := 0; i < v.filled; i++ {
		c := v.history[(v.next-1-i+n)%n]
		if counts[c] > bestCount {
			best, bestCount = c, counts[c]
		}
	}
	return best
}

// Reset forgets all history.
func (v *MajorityVote) Reset() {
	for i := range v.history {
		v.history[i] = ""
	}
	v.next, v.filled = 0, 0
}
