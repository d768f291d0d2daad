package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/abxfeed/internal/wire"
)

// ErrRunNotFound is returned when a run id is not in the store.
var ErrRunNotFound = errors.New("run not found")

// Run is a stored run without its packets.
type Run struct {
	ID            string        `json:"id"`
	Endpoint      string        `json:"endpoint"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration_ns"`
	Streamed      int           `json:"streamed"`
	Recovered     int           `json:"recovered"`
	Packets       int           `json:"packets"`
	Gaps          []int32       `json:"gaps"`
	Missing       []int32       `json:"missing"`
	Unrequestable int64         `json:"unrequestable,omitempty"`
	TrailingBytes int           `json:"trailing_bytes"`
	Malformed     int           `json:"malformed"`
	StreamError   string        `json:"stream_error,omitempty"`
}

const runColumns = `
	r.id, r.endpoint, r.started_at, r.duration_ns, r.streamed, r.recovered,
	(SELECT COUNT(*) FROM packets p WHERE p.run_id = r.id),
	r.gaps, r.missing, r.unrequestable, r.trailing_bytes, r.malformed, r.stream_error`

// ListRuns returns stored runs, newest first. limit <= 0 returns all runs.
//
// Returns an empty slice (not nil) if the store holds no runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT` + runColumns + ` FROM runs r ORDER BY r.started_at DESC, r.id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// LoadRun returns a single run. Returns ErrRunNotFound if it does not exist.
func (s *Store) LoadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+runColumns+` FROM runs r WHERE r.id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// LoadPackets returns the packets of a run ordered by sequence.
// Returns ErrRunNotFound if the run does not exist.
func (s *Store) LoadPackets(ctx context.Context, runID string) ([]wire.Packet, error) {
	if _, err := s.LoadRun(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, symbol, side, quantity, price
		FROM packets
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query packets: %w", err)
	}
	defer rows.Close()

	packets := []wire.Packet{}
	for rows.Next() {
		var (
			p    wire.Packet
			side string
		)
		if err := rows.Scan(&p.Sequence, &p.Symbol, &side, &p.Quantity, &p.Price); err != nil {
			return nil, fmt.Errorf("scan packet: %w", err)
		}
		p.Side = wire.Side(side)
		packets = append(packets, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate packets: %w", err)
	}
	return packets, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run                   Run
		startedAt, durationNS int64
		gapsJSON, missingJSON string
	)
	err := row.Scan(
		&run.ID,
		&run.Endpoint,
		&startedAt,
		&durationNS,
		&run.Streamed,
		&run.Recovered,
		&run.Packets,
		&gapsJSON,
		&missingJSON,
		&run.Unrequestable,
		&run.TrailingBytes,
		&run.Malformed,
		&run.StreamError,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	run.StartedAt = time.Unix(0, startedAt).UTC()
	run.Duration = time.Duration(durationNS)
	if run.Gaps, err = unmarshalSequences(gapsJSON); err != nil {
		return Run{}, err
	}
	if run.Missing, err = unmarshalSequences(missingJSON); err != nil {
		return Run{}, err
	}
	return run, nil
}
