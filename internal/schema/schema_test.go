package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChecker(t *testing.T) *Checker {
	t.Helper()
	c, err := NewChecker()
	require.NoError(t, err)
	return c
}

func codes(r *Report) []string {
	out := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		out[i] = e.Code
	}
	return out
}

func fields(r *Report) string {
	parts := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		parts[i] = e.Field
	}
	return strings.Join(parts, " ")
}

const validSnapshot = `[
  {"symbol": "AAPL", "side": "B", "quantity": 50, "price": 100, "sequence": 1},
  {"symbol": "MSFT", "side": "S", "quantity": 30, "price": 98, "sequence": 2},
  {"symbol": "AAPL", "side": "B", "quantity": 10, "price": 101, "sequence": 3}
]`

func TestCheck_ValidSnapshot(t *testing.T) {
	r := newChecker(t).Check([]byte(validSnapshot))

	assert.True(t, r.OK(), "errors: %v", r.Errors)
	assert.Equal(t, 3, r.Packets)
	assert.Equal(t, int32(1), r.First)
	assert.Equal(t, int32(3), r.Last)
	assert.Empty(t, r.Missing)
}

func TestCheck_EmptySnapshot(t *testing.T) {
	r := newChecker(t).Check([]byte(`[]`))

	assert.True(t, r.OK(), "errors: %v", r.Errors)
	assert.Zero(t, r.Packets)
}

func TestCheck_InvalidJSON(t *testing.T) {
	r := newChecker(t).Check([]byte(`[{"symbol": "AAPL",`))

	require.False(t, r.OK())
	assert.Equal(t, []string{ErrCodeSyntax}, codes(r))
}

func TestCheck_Shape(t *testing.T) {
	tests := []struct {
		name  string
		json  string
		field string
	}{
		{
			name:  "unknown side",
			json:  `[{"symbol": "AAPL", "side": "X", "quantity": 1, "price": 1, "sequence": 1}]`,
			field: "side",
		},
		{
			name:  "short symbol",
			json:  `[{"symbol": "IBM", "side": "B", "quantity": 1, "price": 1, "sequence": 1}]`,
			field: "symbol",
		},
		{
			name:  "zero sequence",
			json:  `[{"symbol": "AAPL", "side": "B", "quantity": 1, "price": 1, "sequence": 0}]`,
			field: "sequence",
		},
		{
			name:  "quantity overflows int32",
			json:  `[{"symbol": "AAPL", "side": "B", "quantity": 2147483648, "price": 1, "sequence": 1}]`,
			field: "quantity",
		},
		{
			name:  "missing price",
			json:  `[{"symbol": "AAPL", "side": "B", "quantity": 1, "sequence": 1}]`,
			field: "price",
		},
		{
			name:  "unknown field",
			json:  `[{"symbol": "AAPL", "side": "B", "quantity": 1, "price": 1, "sequence": 1, "venue": "X"}]`,
			field: "venue",
		},
	}

	c := newChecker(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := c.Check([]byte(tt.json))

			require.False(t, r.OK())
			assert.Contains(t, codes(r), ErrCodeShape)
			assert.Contains(t, fields(r), tt.field)
			assert.Zero(t, r.Packets, "ordering checks must not run on a bad shape")
		})
	}
}

func TestCheck_ObjectInsteadOfArray(t *testing.T) {
	r := newChecker(t).Check([]byte(`{"symbol": "AAPL"}`))

	require.False(t, r.OK())
	assert.Contains(t, codes(r), ErrCodeShape)
}

func TestCheck_Duplicate(t *testing.T) {
	r := newChecker(t).Check([]byte(`[
		{"symbol": "AAPL", "side": "B", "quantity": 1, "price": 1, "sequence": 1},
		{"symbol": "AAPL", "side": "B", "quantity": 1, "price": 1, "sequence": 1},
		{"symbol": "AAPL", "side": "B", "quantity": 1, "price": 1, "sequence": 2}
	]`))

	require.False(t, r.OK())
	assert.Equal(t, []string{ErrCodeDuplicate}, codes(r))
	assert.Equal(t, "1.sequence", r.Errors[0].Field)
}

func TestCheck_OutOfOrder(t *testing.T) {
	r := newChecker(t).Check([]byte(`[
		{"symbol": "AAPL", "side": "B", "quantity": 1, "price": 1, "sequence": 2},
		{"symbol": "AAPL", "side": "B", "quantity": 1, "price": 1, "sequence": 1}
	]`))

	require.False(t, r.OK())
	assert.Equal(t, []string{ErrCodeOrder}, codes(r))
}

func TestCheck_Gap(t *testing.T) {
	r := newChecker(t).Check([]byte(`[
		{"symbol": "AAPL", "side": "B", "quantity": 1, "price": 1, "sequence": 1},
		{"symbol": "AAPL", "side": "B", "quantity": 1, "price": 1, "sequence": 4}
	]`))

	require.False(t, r.OK())
	assert.Equal(t, []string{ErrCodeGap}, codes(r))
	assert.Equal(t, []int32{2, 3}, r.Missing)
	assert.Contains(t, r.Errors[0].Error(), "2 sequences missing")
}

func TestCheck_WideGapNotListed(t *testing.T) {
	r := newChecker(t).Check([]byte(`[
		{"symbol": "AAPL", "side": "B", "quantity": 1, "price": 1, "sequence": 254},
		{"symbol": "AAPL", "side": "B", "quantity": 1, "price": 1, "sequence": 2147483647}
	]`))

	require.False(t, r.OK())
	assert.Equal(t, []string{ErrCodeGap}, codes(r))
	assert.Equal(t, []int32{255}, r.Missing)
	assert.Equal(t, int64(2147483647-256), r.Unlisted)
	assert.Contains(t, r.Errors[0].Message, "above 255")
}

func TestValidationError_Error(t *testing.T) {
	assert.Equal(t, "[E204] sequence: gone", ValidationError{Field: "sequence", Message: "gone", Code: ErrCodeGap}.Error())
	assert.Equal(t, "[E200] bad", ValidationError{Message: "bad", Code: ErrCodeSyntax}.Error())
}
