package feed

import (
	"slices"

	"github.com/roach88/abxfeed/internal/wire"
)

// Gaps is the result of DetectGaps.
type Gaps struct {
	// Requestable lists, ascending, the missing sequences a resend request
	// can carry.
	Requestable []int32

	// Unrequestable counts missing sequences outside 1..wire.MaxResendSequence.
	// They are never listed; a single stray sequence can open a gap of
	// billions.
	Unrequestable int64
}

// Len is the total number of missing sequences.
func (g Gaps) Len() int64 {
	return int64(len(g.Requestable)) + g.Unrequestable
}

// DetectGaps finds every sequence number strictly between two observed ones
// that was not observed itself. Duplicates and input order do not matter.
// Fewer than two distinct observations yield no gaps.
func DetectGaps(observed []int32) Gaps {
	seqs := slices.Clone(observed)
	slices.Sort(seqs)
	seqs = slices.Compact(seqs)

	var g Gaps
	for i := 0; i+1 < len(seqs); i++ {
		lo, hi := int64(seqs[i])+1, int64(seqs[i+1])-1
		if lo > hi {
			continue
		}
		listed := int64(0)
		for s := max(lo, 1); s <= min(hi, wire.MaxResendSequence); s++ {
			g.Requestable = append(g.Requestable, int32(s))
			listed++
		}
		g.Unrequestable += hi - lo + 1 - listed
	}
	return g
}
