package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/abxfeed/internal/config"
	"github.com/roach88/abxfeed/internal/feed"
	"github.com/roach88/abxfeed/internal/metrics"
	"github.com/roach88/abxfeed/internal/session"
	"github.com/roach88/abxfeed/internal/sink"
	"github.com/roach88/abxfeed/internal/store"
)

// sinkWriteTimeout bounds the final write of a fetch, which runs even after
// the command context is cancelled.
const sinkWriteTimeout = 10 * time.Second

// FetchOptions holds flags for the fetch command that are not config keys.
// Config keys (--host, --port, ...) are read through config.Load.
type FetchOptions struct {
	*RootOptions
	ConfigFile string
	EnvFile    string
	Strict     bool
}

// FetchSummary is the result of a fetch.
type FetchSummary struct {
	RunID         string  `json:"run_id"`
	Endpoint      string  `json:"endpoint"`
	Packets       int     `json:"packets"`
	Streamed      int     `json:"streamed"`
	Gaps          int     `json:"gaps"`
	Recovered     int     `json:"recovered"`
	Missing       []int32 `json:"missing"`
	Unrequestable int64   `json:"unrequestable,omitempty"`
	TrailingBytes int     `json:"trailing_bytes,omitempty"`
	Malformed     int     `json:"malformed,omitempty"`
	StreamError   string  `json:"stream_error,omitempty"`
	Complete      bool    `json:"complete"`
	Output        string  `json:"output"`
	DurationMS    int64   `json:"duration_ms"`
}

// NewFetchCommand creates the fetch command.
func NewFetchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FetchOptions{RootOptions: rootOpts}
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch the complete feed from an ABX server",
		Long: `Fetch every packet from an ABX exchange server.

Streams all packets, requests each missing sequence number once, and writes
the reassembled feed ordered by sequence. The output is written even when
some packets could not be recovered; use --strict to fail in that case.

Settings come from defaults, --config, .env, ABXFEED_* environment
variables and flags, in increasing order of precedence.

Examples:
  abxfeed fetch
  abxfeed fetch --host exchange.local --port 3000 --out feed.json
  abxfeed fetch --out - --out-format text
  abxfeed fetch --db history.db --metrics-file abxfeed.prom --strict`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigFile, "config", "", "config file (yaml, toml or json)")
	cmd.Flags().StringVar(&opts.EnvFile, "env-file", "", "dotenv file (default .env if present)")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "exit 1 when the feed is incomplete")

	cmd.Flags().String("host", defaults.Server.Host, "server host")
	cmd.Flags().Int("port", defaults.Server.Port, "server port")
	cmd.Flags().Int("concurrency", defaults.Recovery.Concurrency, "maximum simultaneous resend requests")
	cmd.Flags().Duration("timeout", defaults.Recovery.Timeout, "connect and idle read timeout per connection")
	cmd.Flags().StringP("out", "o", defaults.Output.Path, "output file, - for stdout")
	cmd.Flags().String("out-format", defaults.Output.Format, "output file format (json|text)")
	cmd.Flags().String("db", "", "SQLite run history database")
	cmd.Flags().StringSlice("kafka-brokers", nil, "publish packets to these Kafka brokers")
	cmd.Flags().String("kafka-topic", defaults.Kafka.Topic, "Kafka topic")
	cmd.Flags().String("redis-addr", "", "store the run in Redis at this address")
	cmd.Flags().String("metrics-file", "", "write Prometheus metrics to this file")

	return cmd
}

func runFetch(opts *FetchOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(config.LoadOptions{
		File:    opts.ConfigFile,
		EnvFile: opts.EnvFile,
		Flags:   cmd.Flags(),
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	log := newLogger(formatter.GetErrWriter(), opts.Verbose)
	defer func() { _ = log.Sync() }()

	sinks, err := openSinks(cfg, cmd.OutOrStdout())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open outputs", err)
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			log.Warn("closing outputs", zap.Error(err))
		}
	}()

	m := metrics.New()
	pipeline := feed.New(feed.Config{
		Endpoint:    session.Endpoint{Host: cfg.Server.Host, Port: cfg.Server.Port},
		Session:     session.Options{Timeout: cfg.Recovery.Timeout},
		Concurrency: cfg.Recovery.Concurrency,
	}, m, log)

	formatter.VerboseLog("Fetching from %s:%d", cfg.Server.Host, cfg.Server.Port)
	res, runErr := pipeline.Run(ctx)

	// A cancelled run still writes what it collected.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkWriteTimeout)
	writeErr := sinks.Write(writeCtx, res)
	cancel()

	if cfg.Metrics.File != "" {
		if err := m.WriteFile(cfg.Metrics.File); err != nil {
			log.Warn("metrics not written", zap.String("path", cfg.Metrics.File), zap.Error(err))
		}
	}
	if runErr != nil {
		if writeErr != nil {
			log.Error("partial result not fully written", zap.Error(writeErr))
		}
		return WrapExitError(ExitCommandError, "fetch interrupted", runErr)
	}
	if writeErr != nil {
		return WrapExitError(ExitCommandError, "failed to write output", writeErr)
	}

	summary := summarize(res, cfg.Output.Path)
	if err := outputFetchSummary(formatter, summary); err != nil {
		return err
	}

	if opts.Strict && !summary.Complete {
		return NewExitError(ExitFailure, fmt.Sprintf("feed incomplete: %d sequence(s) missing", res.MissingCount()))
	}
	return nil
}

// openSinks builds every output the config enables. The file output is
// always present.
func openSinks(cfg *config.Config, stdout io.Writer) (sink.Multi, error) {
	encode := sink.EncodeJSON
	if cfg.Output.Format == config.FormatText {
		encode = sink.EncodeText
	}
	sinks := sink.Multi{sink.NewFile(cfg.Output.Path, encode, stdout)}

	if cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			_ = sinks.Close()
			return nil, fmt.Errorf("open run history %s: %w", cfg.Store.Path, err)
		}
		sinks = append(sinks, st)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		sinks = append(sinks, sink.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic))
	}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		sinks = append(sinks, sink.NewRedis(client, cfg.Redis.KeyPrefix))
	}
	return sinks, nil
}

func summarize(res *feed.Result, output string) FetchSummary {
	s := FetchSummary{
		RunID:         res.RunID,
		Endpoint:      res.Endpoint,
		Packets:       len(res.Packets),
		Streamed:      res.Streamed,
		Gaps:          len(res.Gaps),
		Recovered:     res.Recovered,
		Missing:       res.Missing,
		Unrequestable: res.Unrequestable,
		TrailingBytes: res.TrailingBytes,
		Malformed:     res.Malformed,
		Complete:      res.Complete() && res.StreamErr == nil,
		Output:        output,
		DurationMS:    res.Duration.Milliseconds(),
	}
	if s.Missing == nil {
		s.Missing = []int32{}
	}
	if res.StreamErr != nil {
		s.StreamError = res.StreamErr.Error()
	}
	return s
}

// outputFetchSummary prints the summary. Text summaries go to stderr when
// the packets themselves are written to stdout.
func outputFetchSummary(formatter *OutputFormatter, s FetchSummary) error {
	if formatter.JSON() {
		return formatter.Success(s)
	}

	w := formatter.GetErrWriter()
	if s.Output != sink.Stdout {
		w = formatter.Writer
	}

	fmt.Fprintf(w, "Run %s against %s\n", s.RunID, s.Endpoint)
	fmt.Fprintf(w, "  packets:   %d (streamed %d, recovered %d)\n", s.Packets, s.Streamed, s.Recovered)
	fmt.Fprintf(w, "  gaps:      %d\n", s.Gaps)
	if s.Unrequestable > 0 {
		fmt.Fprintf(w, "  beyond:    %d sequences above the resend range\n", s.Unrequestable)
	}
	if s.TrailingBytes > 0 {
		fmt.Fprintf(w, "  trailing:  %d bytes discarded\n", s.TrailingBytes)
	}
	if s.Malformed > 0 {
		fmt.Fprintf(w, "  malformed: %d records skipped\n", s.Malformed)
	}
	if s.StreamError != "" {
		fmt.Fprintf(w, "  stream:    %s\n", s.StreamError)
	}
	fmt.Fprintf(w, "  output:    %s\n", s.Output)
	fmt.Fprintf(w, "  duration:  %s\n", time.Duration(s.DurationMS)*time.Millisecond)

	switch {
	case s.Unrequestable > 0:
		fmt.Fprintf(w, "✗ %d sequence(s) missing\n", int64(len(s.Missing))+s.Unrequestable)
	case len(s.Missing) > 0:
		fmt.Fprintf(w, "✗ %d sequence(s) missing: %v\n", len(s.Missing), s.Missing)
	case s.StreamError != "":
		fmt.Fprintln(w, "✗ Stream ended early; later packets may be missing")
	default:
		fmt.Fprintln(w, "✓ Feed complete")
	}
	return nil
}
