package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/abxfeed/internal/feed"
)

// Redis stores each run as a sorted set of packet JSON scored by sequence:
//
//	<prefix><run_id>          ZSET  packet JSON by sequence
//	<prefix><run_id>:summary  HASH  streamed, recovered, missing, complete
//	<prefix>latest            STRING run id of the newest run
//
// All keys of a run are written in one MULTI/EXEC transaction.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis creates a Redis sink. The client is closed with the sink.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// RunKey returns the sorted-set key of a run.
func (r *Redis) RunKey(runID string) string {
	return r.prefix + runID
}

// LatestKey returns the key pointing at the newest run.
func (r *Redis) LatestKey() string {
	return r.prefix + "latest"
}

func (r *Redis) Write(ctx context.Context, res *feed.Result) error {
	members := make([]redis.Z, 0, len(res.Packets))
	for _, p := range res.Packets {
		value, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("redis: encode packet %d: %w", p.Sequence, err)
		}
		members = append(members, redis.Z{Score: float64(p.Sequence), Member: string(value)})
	}

	key := r.RunKey(res.RunID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(members) > 0 {
			pipe.ZAdd(ctx, key, members...)
		}
		pipe.HSet(ctx, key+":summary", map[string]any{
			"streamed":  res.Streamed,
			"recovered": res.Recovered,
			"missing":   res.MissingCount(),
			"complete":  res.Complete(),
		})
		pipe.Set(ctx, r.LatestKey(), res.RunID, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: store run %s: %w", res.RunID, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
