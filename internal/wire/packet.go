package wire

import "fmt"

// Side is the buy/sell indicator of a packet.
type Side string

const (
	SideBuy  Side = "B"
	SideSell Side = "S"
)

// Valid reports whether s is one of the known indicators.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Packet is one decoded transaction record.
// Values are only produced by Decode and are never modified afterwards.
type Packet struct {
	Symbol   string `json:"symbol"`
	Side     Side   `json:"side"`
	Quantity int32  `json:"quantity"`
	Price    int32  `json:"price"`
	Sequence int32  `json:"sequence"`
}

func (p Packet) String() string {
	return fmt.Sprintf("seq=%d symbol=%s side=%s qty=%d price=%d",
		p.Sequence, p.Symbol, p.Side, p.Quantity, p.Price)
}

// Sequences returns the sequence numbers of packets in input order.
func Sequences(packets []Packet) []int32 {
	seqs := make([]int32, len(packets))
	for i, p := range packets {
		seqs[i] = p.Sequence
	}
	return seqs
}
