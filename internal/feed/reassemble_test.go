package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/abxfeed/internal/wire"
)

func pkt(seq int32, symbol string) wire.Packet {
	return wire.Packet{Symbol: symbol, Side: wire.SideBuy, Quantity: 10, Price: 100, Sequence: seq}
}

func TestReassemble_MergesAndSorts(t *testing.T) {
	streamed := []wire.Packet{pkt(4, "AAPL"), pkt(1, "AAPL"), pkt(2, "AAPL")}
	recovered := []wire.Packet{pkt(3, "MSFT")}

	got := Reassemble(streamed, recovered)
	assert.Equal(t, []int32{1, 2, 3, 4}, wire.Sequences(got))
	assert.Equal(t, "MSFT", got[2].Symbol)
}

func TestReassemble_StreamedWinsTieBreak(t *testing.T) {
	streamed := []wire.Packet{pkt(1, "AAPL"), pkt(2, "AAPL")}
	recovered := []wire.Packet{pkt(2, "MSFT")}

	got := Reassemble(streamed, recovered)
	require.Len(t, got, 2)
	assert.Equal(t, "AAPL", got[1].Symbol, "streamed packet must be kept over a recovered duplicate")
}

func TestReassemble_FirstStreamedDuplicateWins(t *testing.T) {
	streamed := []wire.Packet{pkt(1, "AAPL"), pkt(1, "MSFT")}

	got := Reassemble(streamed, nil)
	require.Len(t, got, 1)
	assert.Equal(t, "AAPL", got[0].Symbol)
}

func TestReassemble_FirstRecoveredDuplicateWins(t *testing.T) {
	recovered := []wire.Packet{pkt(5, "AMZN"), pkt(5, "META")}

	got := Reassemble(nil, recovered)
	require.Len(t, got, 1)
	assert.Equal(t, "AMZN", got[0].Symbol)
}

func TestReassemble_Idempotent(t *testing.T) {
	streamed := []wire.Packet{pkt(6, "AAPL"), pkt(2, "AAPL"), pkt(2, "META"), pkt(9, "AAPL")}
	recovered := []wire.Packet{pkt(7, "MSFT"), pkt(3, "MSFT"), pkt(9, "AMZN")}

	first := Reassemble(streamed, recovered)
	second := Reassemble(streamed, recovered)
	assert.Equal(t, first, second)

	again := Reassemble(first, nil)
	assert.Equal(t, first, again)
}

func TestReassemble_UniqueAndStrictlyIncreasing(t *testing.T) {
	streamed := []wire.Packet{pkt(8, "A"), pkt(3, "B"), pkt(3, "C"), pkt(1, "D"), pkt(8, "E")}
	recovered := []wire.Packet{pkt(2, "F"), pkt(8, "G"), pkt(5, "H"), pkt(2, "I")}

	got := Reassemble(streamed, recovered)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].Sequence, got[i].Sequence)
	}
	assert.Equal(t, []int32{1, 2, 3, 5, 8}, wire.Sequences(got))
}

func TestReassemble_Empty(t *testing.T) {
	assert.Empty(t, Reassemble(nil, nil))
}

func TestReassemble_DoesNotModifyInputs(t *testing.T) {
	streamed := []wire.Packet{pkt(2, "AAPL"), pkt(1, "AAPL")}
	Reassemble(streamed, nil)
	assert.Equal(t, []int32{2, 1}, wire.Sequences(streamed))
}

func TestContiguous(t *testing.T) {
	assert.True(t, Contiguous(nil))
	assert.True(t, Contiguous([]wire.Packet{pkt(4, "A")}))
	assert.True(t, Contiguous([]wire.Packet{pkt(1, "A"), pkt(2, "A"), pkt(3, "A")}))
	assert.False(t, Contiguous([]wire.Packet{pkt(1, "A"), pkt(3, "A")}))
	assert.False(t, Contiguous([]wire.Packet{pkt(1, "A"), pkt(1, "A")}))
}
