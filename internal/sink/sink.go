// Package sink delivers the reassembled feed of a run to its consumers.
//
// Every sink receives the same *feed.Result once, after the pipeline has
// finished. Sinks never modify the result.
package sink

import (
	"context"
	"errors"

	"github.com/roach88/abxfeed/internal/feed"
)

// Sink is a persistence collaborator for pipeline results.
type Sink interface {
	Write(ctx context.Context, res *feed.Result) error
	Close() error
}

// Multi writes to every sink in order. A failing sink does not stop the
// others; all errors are returned joined.
type Multi []Sink

func (m Multi) Write(ctx context.Context, res *feed.Result) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
