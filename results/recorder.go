package results

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sergev/stim/logging"
)

// ErrOutputExists is returned when a dataset is already stored for an identity.
var ErrOutputExists = errors.New("output file already exists")

// IOError reports a failed dataset write. The caller keeps its records.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("failed to write %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Recorder checks and writes datasets under one output directory.
type Recorder struct {
	dir     string
	variant Variant
	archive Archiver
	logger  *slog.Logger
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithArchive uploads each written dataset.
func WithArchive(a Archiver) RecorderOption { return func(r *Recorder) { r.archive = a } }

// WithRecorderLogger sets the logger for archive failures.
func WithRecorderLogger(l *slog.Logger) RecorderOption { return func(r *Recorder) { r.logger = l } }

// NewRecorder creates a recorder writing variant datasets into dir.
func NewRecorder(dir string, variant Variant, opts ...RecorderOption) *Recorder {
	if dir == "" {
		dir = "."
	}
	r := &Recorder{dir: dir, variant: variant, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Variant returns the dataset layout.
func (r *Recorder) Variant() Variant { return r.variant }

// Path returns where the dataset for id is written.
func (r *Recorder) Path(id Identity) string { return id.Path(r.dir) }

// Check reports ErrOutputExists when the target path is taken. The check
// is not atomic with Write.
func (r *Recorder) Check(id Identity) error {
	path := r.Path(id)
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrOutputExists, path)
	case errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return &IOError{Path: path, Err: err}
	}
}

// Write encodes ds to a temporary file and renames it into place, so a
// failed attempt leaves nothing behind and can be retried.
func (r *Recorder) Write(ctx context.Context, ds Dataset) (string, error) {
	path := r.Path(ds.Identity)
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", &IOError{Path: path, Err: err}
	}
	tmp, err := os.CreateTemp(r.dir, ".stim-*.csv")
	if err != nil {
		return "", &IOError{Path: path, Err: err}
	}
	cleanup := func(err error) (string, error) {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", &IOError{Path: path, Err: err}
	}
	if err := r.variant.Encode(tmp, ds); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", &IOError{Path: path, Err: err}
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return "", &IOError{Path: path, Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", &IOError{Path: path, Err: err}
	}

	if r.archive != nil {
		if err := r.upload(ctx, path); err != nil {
			r.logger.Error("archive upload failed", "path", path, "error", err)
		} else {
			r.logger.Info("dataset archived", "path", path)
		}
	}
	return path, nil
}

func (r *Recorder) upload(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return r.archive.Put(ctx, filepath.Base(path), f)
}
