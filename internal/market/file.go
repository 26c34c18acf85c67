package market

import (
	"context"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/refi-monitor/internal/model"
)

// FileSource reads a rate sheet from the local filesystem.
type FileSource struct {
	path   string
	format Format
}

// NewFileSource returns a source for path, with the format taken from its
// extension.
func NewFileSource(path string) (*FileSource, error) {
	if path == "" {
		return nil, eris.New("market: empty file path")
	}
	return &FileSource{path: path, format: formatOf(path)}, nil
}

// Name implements Source.
func (s *FileSource) Name() string { return "file:" + s.path }

// Fetch implements Source.
func (s *FileSource) Fetch(ctx context.Context) (*model.Snapshot, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, eris.Wrapf(err, "market: open %s", s.path)
	}
	defer f.Close() //nolint:errcheck

	snap, err := Parse(ctx, f, s.format)
	if err != nil {
		return nil, eris.Wrapf(err, "market: parse %s", s.path)
	}
	if snap.FetchedAt.IsZero() {
		if info, statErr := f.Stat(); statErr == nil {
			snap.FetchedAt = info.ModTime().UTC()
		}
	}
	return snap, nil
}
