package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/abxfeed/internal/feed"
	"github.com/roach88/abxfeed/internal/wire"
)

func testResult() *feed.Result {
	return &feed.Result{
		RunID: "run-1",
		Packets: []wire.Packet{
			{Symbol: "AAPL", Side: wire.SideBuy, Quantity: 50, Price: 100, Sequence: 1},
			{Symbol: "MSFT", Side: wire.SideSell, Quantity: 30, Price: 98, Sequence: 2},
			{Symbol: "AAPL", Side: wire.SideBuy, Quantity: 10, Price: 101, Sequence: 3},
		},
		Streamed:  2,
		Recovered: 1,
		Gaps:      []int32{2},
	}
}

func TestEncodeJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeJSON(&buf, testResult().Packets[:1]))

	want := `[
  {
    "symbol": "AAPL",
    "side": "B",
    "quantity": 50,
    "price": 100,
    "sequence": 1
  }
]
`
	assert.Equal(t, want, buf.String())
}

func TestEncodeJSON_EmptyIsArray(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeJSON(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestEncodeText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeText(&buf, testResult().Packets))
	want := "seq=1 symbol=AAPL side=B qty=50 price=100\n" +
		"seq=2 symbol=MSFT side=S qty=30 price=98\n" +
		"seq=3 symbol=AAPL side=B qty=10 price=101\n"
	assert.Equal(t, want, buf.String())
}

func TestFile_WritesAndReplaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "output.json")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0644))

	f := NewFile(path, EncodeJSON, nil)
	require.NoError(t, f.Write(context.Background(), testResult()))
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got []wire.Packet
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, testResult().Packets, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must not be left behind")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestFile_Stdout(t *testing.T) {
	var buf bytes.Buffer
	f := NewFile(Stdout, EncodeText, &buf)
	require.NoError(t, f.Write(context.Background(), testResult()))
	assert.Contains(t, buf.String(), "seq=2 symbol=MSFT")
}

func TestFile_BadDirectory(t *testing.T) {
	f := NewFile("/nonexistent/dir/output.json", EncodeJSON, nil)
	err := f.Write(context.Background(), testResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/nonexistent/dir/output.json")
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafka_PublishesOneMessagePerPacket(t *testing.T) {
	w := &fakeWriter{}
	k := NewKafkaWithWriter(w)

	require.NoError(t, k.Write(context.Background(), testResult()))
	require.Len(t, w.msgs, 3)

	assert.Equal(t, "MSFT", string(w.msgs[1].Key))
	var p wire.Packet
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &p))
	assert.Equal(t, int32(2), p.Sequence)

	headers := map[string]string{}
	for _, h := range w.msgs[1].Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "run-1", headers["run_id"])
	assert.Equal(t, "2", headers["sequence"])

	require.NoError(t, k.Close())
	assert.True(t, w.closed)
}

func TestKafka_EmptyResultPublishesNothing(t *testing.T) {
	w := &fakeWriter{err: errors.New("must not be called")}
	require.NoError(t, NewKafkaWithWriter(w).Write(context.Background(), &feed.Result{RunID: "r"}))
}

func TestKafka_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	err := NewKafkaWithWriter(w).Write(context.Background(), testResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestRedis_StoresRun(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "abx:feed:")
	t.Cleanup(func() { r.Close() })

	require.NoError(t, r.Write(context.Background(), testResult()))

	latest, err := mr.Get("abx:feed:latest")
	require.NoError(t, err)
	assert.Equal(t, "run-1", latest)

	members, err := mr.ZMembers("abx:feed:run-1")
	require.NoError(t, err)
	require.Len(t, members, 3)
	var first wire.Packet
	require.NoError(t, json.Unmarshal([]byte(members[0]), &first))
	assert.Equal(t, int32(1), first.Sequence)

	score, err := mr.ZScore("abx:feed:run-1", members[2])
	require.NoError(t, err)
	assert.Equal(t, 3.0, score)

	assert.Equal(t, "2", mr.HGet("abx:feed:run-1:summary", "streamed"))
	assert.Equal(t, "1", mr.HGet("abx:feed:run-1:summary", "recovered"))
	assert.Equal(t, "0", mr.HGet("abx:feed:run-1:summary", "missing"))
	assert.Equal(t, "1", mr.HGet("abx:feed:run-1:summary", "complete"))
}

func TestRedis_RewriteReplacesRun(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "p:")
	t.Cleanup(func() { r.Close() })

	require.NoError(t, r.Write(context.Background(), testResult()))

	smaller := testResult()
	smaller.Packets = smaller.Packets[:1]
	require.NoError(t, r.Write(context.Background(), smaller))

	members, err := mr.ZMembers(r.RunKey("run-1"))
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestRedis_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	r := NewRedis(redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1}), "p:")
	t.Cleanup(func() { r.Close() })

	err := r.Write(context.Background(), testResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store run run-1")
}

type recordingSink struct {
	writes int
	err    error
}

func (s *recordingSink) Write(context.Context, *feed.Result) error {
	s.writes++
	return s.err
}

func (s *recordingSink) Close() error { return s.err }

func TestMulti_WritesAllAndJoinsErrors(t *testing.T) {
	a := &recordingSink{err: errors.New("a failed")}
	b := &recordingSink{}
	c := &recordingSink{err: errors.New("c failed")}

	err := Multi{a, b, c}.Write(context.Background(), testResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a failed")
	assert.Contains(t, err.Error(), "c failed")
	assert.Equal(t, 1, b.writes, "a failing sink must not stop the rest")

	assert.Error(t, Multi{a, b}.Close())
	assert.NoError(t, Multi{b}.Close())
}
