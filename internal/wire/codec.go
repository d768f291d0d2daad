package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/text/encoding/charmap"
)

const (
	// RecordSize is the length of every response record.
	RecordSize = 17

	// RequestSize is the length of every request message.
	RequestSize = 2

	// SymbolSize is the width of the symbol field.
	SymbolSize = 4

	// MaxResendSequence is the largest sequence a resend request can carry.
	MaxResendSequence = 255
)

// Call types understood by the feed server.
const (
	CallStreamAll byte = 1
	CallResend    byte = 2
)

var (
	// ErrMalformedRecord is returned when a buffer cannot be decoded into a Packet.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrSequenceOutOfRange is returned when a sequence cannot be carried by a resend request.
	ErrSequenceOutOfRange = errors.New("sequence out of resend range")
)

// Field offsets inside a record.
const (
	offSymbol   = 0
	offSide     = 4
	offQuantity = 5
	offPrice    = 9
	offSequence = 13
)

// EncodeStreamAll returns the request that asks the server to stream every packet.
func EncodeStreamAll() []byte {
	return []byte{CallStreamAll, 0}
}

// EncodeResend returns the request for a single packet.
// The sequence must fit in one byte and be positive.
func EncodeResend(seq int32) ([]byte, error) {
	if seq < 1 || seq > MaxResendSequence {
		return nil, fmt.Errorf("%w: %d not in 1..%d", ErrSequenceOutOfRange, seq, MaxResendSequence)
	}
	return []byte{CallResend, byte(seq)}, nil
}

// Decode parses a single record. buf must be exactly RecordSize bytes and
// carry a positive sequence.
func Decode(buf []byte) (Packet, error) {
	if len(buf) != RecordSize {
		return Packet{}, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedRecord, len(buf), RecordSize)
	}

	side := Side(buf[offSide : offSide+1])
	if !side.Valid() {
		return Packet{}, fmt.Errorf("%w: unknown side indicator %q", ErrMalformedRecord, buf[offSide])
	}

	// ISO-8859-1 maps every byte to a rune, so this cannot fail; it keeps a
	// stray high byte from producing invalid UTF-8.
	symbol, err := charmap.ISO8859_1.NewDecoder().Bytes(buf[offSymbol:offSide])
	if err != nil {
		return Packet{}, fmt.Errorf("%w: symbol: %v", ErrMalformedRecord, err)
	}

	seq := int32(binary.BigEndian.Uint32(buf[offSequence:RecordSize]))
	if seq <= 0 {
		return Packet{}, fmt.Errorf("%w: sequence %d is not positive", ErrMalformedRecord, seq)
	}

	return Packet{
		Symbol:   string(symbol),
		Side:     side,
		Quantity: int32(binary.BigEndian.Uint32(buf[offQuantity:offPrice])),
		Price:    int32(binary.BigEndian.Uint32(buf[offPrice:offSequence])),
		Sequence: seq,
	}, nil
}

// Encode is the inverse of Decode. It is used by test servers and fixtures;
// the client itself never sends records. The sequence is not checked, so a
// test server can emit records Decode refuses.
func Encode(p Packet) ([]byte, error) {
	symbol, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(p.Symbol))
	if err != nil {
		return nil, fmt.Errorf("%w: symbol %q: %v", ErrMalformedRecord, p.Symbol, err)
	}
	if len(symbol) != SymbolSize {
		return nil, fmt.Errorf("%w: symbol %q is %d bytes, want %d", ErrMalformedRecord, p.Symbol, len(symbol), SymbolSize)
	}
	if !p.Side.Valid() {
		return nil, fmt.Errorf("%w: unknown side indicator %q", ErrMalformedRecord, p.Side)
	}

	buf := make([]byte, RecordSize)
	copy(buf[offSymbol:offSide], symbol)
	buf[offSide] = p.Side[0]
	binary.BigEndian.PutUint32(buf[offQuantity:offPrice], uint32(p.Quantity))
	binary.BigEndian.PutUint32(buf[offPrice:offSequence], uint32(p.Price))
	binary.BigEndian.PutUint32(buf[offSequence:RecordSize], uint32(p.Sequence))
	return buf, nil
}
