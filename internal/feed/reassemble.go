package feed

import (
	"cmp"
	"slices"

	"github.com/roach88/abxfeed/internal/wire"
)

// Reassemble merges streamed and recovered packets into one set with a
// single packet per sequence, sorted ascending by sequence.
//
// When a sequence appears more than once the earliest streamed packet is
// kept; a recovered packet is only used for sequences the stream never
// delivered. The result is deterministic for the same inputs.
func Reassemble(streamed, recovered []wire.Packet) []wire.Packet {
	seen := make(map[int32]struct{}, len(streamed)+len(recovered))
	out := make([]wire.Packet, 0, len(streamed)+len(recovered))

	for _, group := range [][]wire.Packet{streamed, recovered} {
		for _, p := range group {
			if _, dup := seen[p.Sequence]; dup {
				continue
			}
			seen[p.Sequence] = struct{}{}
			out = append(out, p)
		}
	}

	slices.SortFunc(out, func(a, b wire.Packet) int {
		return cmp.Compare(a.Sequence, b.Sequence)
	})
	return out
}

// Contiguous reports whether packets, sorted by sequence, cover every
// sequence from the first to the last without repeats.
func Contiguous(packets []wire.Packet) bool {
	for i := 1; i < len(packets); i++ {
		if packets[i].Sequence != packets[i-1].Sequence+1 {
			return false
		}
	}
	return true
}
