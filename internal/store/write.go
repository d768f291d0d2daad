package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/abxfeed/internal/feed"
)

// SaveRun inserts a run and its packets in one transaction.
// Uses ON CONFLICT DO NOTHING for idempotency - saving the same run id
// again leaves the stored copy untouched.
func (s *Store) SaveRun(ctx context.Context, res *feed.Result) error {
	gapsJSON, err := marshalSequences(res.Gaps)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	missingJSON, err := marshalSequences(res.Missing)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	streamErr := ""
	if res.StreamErr != nil {
		streamErr = res.StreamErr.Error()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, endpoint, started_at, duration_ns, streamed, recovered, gaps, missing, unrequestable, trailing_bytes, malformed, stream_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		res.RunID,
		res.Endpoint,
		res.StartedAt.UnixNano(),
		int64(res.Duration),
		res.Streamed,
		res.Recovered,
		gapsJSON,
		missingJSON,
		res.Unrequestable,
		res.TrailingBytes,
		res.Malformed,
		streamErr,
	)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save run: rows affected: %w", err)
	}
	if inserted == 0 {
		// Already stored; packets belong to the first copy.
		return tx.Commit()
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO packets (run_id, seq, symbol, side, quantity, price)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("save run: prepare packets: %w", err)
	}
	defer stmt.Close()

	for _, p := range res.Packets {
		if _, err := stmt.ExecContext(ctx, res.RunID, p.Sequence, p.Symbol, string(p.Side), p.Quantity, p.Price); err != nil {
			return fmt.Errorf("save run: packet %d: %w", p.Sequence, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save run: commit: %w", err)
	}
	return nil
}

// Write saves res, letting a Store act as a result sink.
func (s *Store) Write(ctx context.Context, res *feed.Result) error {
	return s.SaveRun(ctx, res)
}

func marshalSequences(seqs []int32) (string, error) {
	if seqs == nil {
		seqs = []int32{}
	}
	data, err := json.Marshal(seqs)
	if err != nil {
		return "", fmt.Errorf("marshal sequences: %w", err)
	}
	return string(data), nil
}

func unmarshalSequences(data string) ([]int32, error) {
	var seqs []int32
	if err := json.Unmarshal([]byte(data), &seqs); err != nil {
		return nil, fmt.Errorf("unmarshal sequences: %w", err)
	}
	return seqs, nil
}
