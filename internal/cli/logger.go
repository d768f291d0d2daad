package cli

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds the run logger. Verbose mode logs debug entries in
// console form; otherwise info and above are written as JSON.
func newLogger(w io.Writer, verbose bool) *zap.Logger {
	var (
		encoder zapcore.Encoder
		level   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	)
	if verbose {
		cfg := zap.NewDevelopmentEncoderConfig()
		encoder = zapcore.NewConsoleEncoder(cfg)
		level.SetLevel(zapcore.DebugLevel)
	} else {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(cfg)
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(w), level)
	return zap.New(core).Named("abxfeed")
}
