// Package schema checks persisted feed snapshots.
//
// A snapshot is first unified with the CUE definition in snapshot.cue, which
// fixes the shape of every packet. Snapshots with a valid shape are then
// checked for the ordering guarantees of a reassembled feed: ascending
// sequence numbers, one packet per sequence and no holes.
package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"

	"github.com/roach88/abxfeed/internal/feed"
	"github.com/roach88/abxfeed/internal/wire"
)

//go:embed snapshot.cue
var snapshotCUE string

// Validation error codes (E200-E299)
const (
	ErrCodeSyntax    = "E200" // not valid JSON
	ErrCodeShape     = "E201" // does not unify with #Snapshot
	ErrCodeOrder     = "E202" // sequence lower than its predecessor
	ErrCodeDuplicate = "E203" // sequence repeated
	ErrCodeGap       = "E204" // sequences missing between first and last
)

// ValidationError is one problem found in a snapshot.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Report is the result of checking one snapshot.
type Report struct {
	Packets int     `json:"packets"`
	First   int32   `json:"first,omitempty"`
	Last    int32   `json:"last,omitempty"`
	Missing []int32 `json:"missing,omitempty"`

	// Unlisted counts missing sequences above the resend range; they are
	// left out of Missing.
	Unlisted int64 `json:"unlisted,omitempty"`

	Errors []ValidationError `json:"errors,omitempty"`
}

// OK reports whether the snapshot passed every check.
func (r *Report) OK() bool {
	return len(r.Errors) == 0
}

// Checker validates snapshots against the compiled schema.
// A Checker is not safe for concurrent use.
type Checker struct {
	ctx      *cue.Context
	snapshot cue.Value
}

// NewChecker compiles the embedded snapshot schema.
func NewChecker() (*Checker, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(snapshotCUE, cue.Filename("snapshot.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile snapshot schema: %w", err)
	}
	def := v.LookupPath(cue.ParsePath("#Snapshot"))
	if !def.Exists() {
		return nil, fmt.Errorf("compile snapshot schema: #Snapshot not defined")
	}
	return &Checker{ctx: ctx, snapshot: def}, nil
}

// Check validates data, the JSON content of a snapshot file.
// Returns all errors found (does not fail-fast). Ordering checks run only
// when the shape is valid.
func (c *Checker) Check(data []byte) *Report {
	report := &Report{}

	expr, err := cuejson.Extract("snapshot.json", data)
	if err != nil {
		report.Errors = append(report.Errors, ValidationError{
			Message: fmt.Sprintf("invalid JSON: %v", err),
			Code:    ErrCodeSyntax,
		})
		return report
	}

	value := c.snapshot.Unify(c.ctx.BuildExpr(expr))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		report.Errors = append(report.Errors, shapeErrors(err)...)
		return report
	}

	var packets []wire.Packet
	if err := json.Unmarshal(data, &packets); err != nil {
		report.Errors = append(report.Errors, ValidationError{
			Message: fmt.Sprintf("decode packets: %v", err),
			Code:    ErrCodeShape,
		})
		return report
	}

	report.Packets = len(packets)
	report.Errors = append(report.Errors, orderErrors(packets)...)
	if len(packets) > 0 {
		report.First = packets[0].Sequence
		report.Last = packets[len(packets)-1].Sequence
	}

	gaps := feed.DetectGaps(wire.Sequences(packets))
	report.Missing = gaps.Requestable
	report.Unlisted = gaps.Unrequestable
	switch {
	case gaps.Unrequestable > 0:
		report.Errors = append(report.Errors, ValidationError{
			Field:   "sequence",
			Message: fmt.Sprintf("%d sequences missing, %d of them above %d", gaps.Len(), gaps.Unrequestable, wire.MaxResendSequence),
			Code:    ErrCodeGap,
		})
	case len(report.Missing) > 0:
		report.Errors = append(report.Errors, ValidationError{
			Field:   "sequence",
			Message: fmt.Sprintf("%d sequences missing: %v", len(report.Missing), report.Missing),
			Code:    ErrCodeGap,
		})
	}
	return report
}

func shapeErrors(err error) []ValidationError {
	var errs []ValidationError
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		errs = append(errs, ValidationError{
			Field:   strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
			Code:    ErrCodeShape,
		})
	}
	if len(errs) == 0 {
		errs = append(errs, ValidationError{Message: err.Error(), Code: ErrCodeShape})
	}
	return errs
}

func orderErrors(packets []wire.Packet) []ValidationError {
	var errs []ValidationError
	for i := 1; i < len(packets); i++ {
		prev, cur := packets[i-1].Sequence, packets[i].Sequence
		field := fmt.Sprintf("%d.sequence", i)
		switch {
		case cur == prev:
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("sequence %d repeated", cur),
				Code:    ErrCodeDuplicate,
			})
		case cur < prev:
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("sequence %d follows %d", cur, prev),
				Code:    ErrCodeOrder,
			})
		}
	}
	return errs
}
