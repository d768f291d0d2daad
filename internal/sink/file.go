package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/roach88/abxfeed/internal/feed"
	"github.com/roach88/abxfeed/internal/wire"
)

// Stdout is the file path that selects standard output.
const Stdout = "-"

// Encoder renders packets for a file sink.
type Encoder func(w io.Writer, packets []wire.Packet) error

// EncodeJSON writes packets as an indented JSON array.
func EncodeJSON(w io.Writer, packets []wire.Packet) error {
	if packets == nil {
		packets = []wire.Packet{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(packets)
}

// EncodeText writes one line per packet.
func EncodeText(w io.Writer, packets []wire.Packet) error {
	for _, p := range packets {
		if _, err := fmt.Fprintln(w, p.String()); err != nil {
			return err
		}
	}
	return nil
}

// File writes the packets of a result to a file, replacing it atomically,
// or to an io.Writer when the path is Stdout.
type File struct {
	path   string
	encode Encoder
	stdout io.Writer
}

// NewFile creates a file sink. stdout is used when path is Stdout.
func NewFile(path string, encode Encoder, stdout io.Writer) *File {
	return &File{path: path, encode: encode, stdout: stdout}
}

func (f *File) Write(_ context.Context, res *feed.Result) error {
	if f.path == Stdout {
		if err := f.encode(f.stdout, res.Packets); err != nil {
			return fmt.Errorf("write stdout: %w", err)
		}
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), "."+filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	defer os.Remove(tmp.Name()) // No-op after a successful rename

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	if err := f.encode(tmp, res.Packets); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	return nil
}

func (f *File) Close() error { return nil }
