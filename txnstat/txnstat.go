// Package txnstat renders transactional-layer statistics as an aligned
// text table, following a Stats(debug bool) fmt.Stringer convention
// (see brimstore's ValuesStoreStats.String) and reusing the same
// alignment helper it uses: github.com/gholt/brimtext.
package txnstat

import (
	"fmt"

	"github.com/gholt/brimtext"
)

// Stats is a point-in-time snapshot of a DB's counters. These are
// cumulative for the life of the DB: there is no hot-path benefit here
// to resetting on read, and a cumulative view is more useful for a
// protocol whose interesting failure mode (a stuck no-wait retry storm)
// plays out over many commits.
type Stats struct {
	Commits        int64
	Aborts         int64
	NoWaitRetries  int64
	TSCacheSlots   int
	KeepAllKeys    bool
	IsolationLevel string

	// Extended controls String's verbosity, matching the teacher's
	// debug-gated extended stats table.
	Extended bool
}

func (s *Stats) String() string {
	rows := [][]string{
		{"commits", fmt.Sprintf("%d", s.Commits)},
		{"aborts", fmt.Sprintf("%d", s.Aborts)},
		{"isolationLevel", s.IsolationLevel},
	}
	if s.Extended {
		rows = append(rows,
			[]string{"noWaitRetries", fmt.Sprintf("%d", s.NoWaitRetries)},
			[]string{"tsCacheSlots", fmt.Sprintf("%d", s.TSCacheSlots)},
			[]string{"keepAllKeys", fmt.Sprintf("%t", s.KeepAllKeys)},
		)
	}
	return brimtext.Align(rows, nil)
}

// AbortRate returns Aborts / (Commits + Aborts), or 0 if no transactions
// have concluded yet.
func (s *Stats) AbortRate() float64 {
	total := s.Commits + s.Aborts
	if total == 0 {
		return 0
	}
	return float64(s.Aborts) / float64(total)
}
