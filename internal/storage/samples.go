package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// ErrCorrupt indicates a store file exists but is not a valid sample array.
var ErrCorrupt = errors.New("storage: corrupt sample file")

// SampleAppender is the write side used by the collection loop.
type SampleAppender interface {
	Append(sample Sample) error
}

// SampleReader is the read side used by reporting and the dashboard.
type SampleReader interface {
	ReadAll() (Series, error)
}

// SampleStore keeps a run's samples as a JSON array in a single file.
// Every append rewrites the whole file.
type SampleStore struct {
	path   string
	logger zerolog.Logger
}

// NewSampleStore binds a store to path. The file is created on first append.
func NewSampleStore(path string, logger zerolog.Logger) *SampleStore {
	return &SampleStore{
		path:   path,
		logger: logger.With().Str("component", "sample_store").Str("path", path).Logger(),
	}
}

// Path returns the backing file.
func (s *SampleStore) Path() string {
	return s.path
}

// Append adds sample at the end of the series. An unreadable existing file is
// replaced by a fresh series.
func (s *SampleStore) Append(sample Sample) error {
	series, err := s.ReadAll()
	if err != nil {
		s.logger.Warn().Err(err).Msg("existing samples unreadable; starting new series")
		series = Series{}
	}

	series = append(series, sample)

	data, err := json.MarshalIndent(series, "", "  ")
	if err != nil {
		return fmt.Errorf("encode samples: %w", err)
	}
	if err := WriteFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("write samples: %w", err)
	}

	s.logger.Debug().Int("samples", len(series)).Msg("sample appended")
	return nil
}

// ReadAll loads the full series. A missing file yields an empty series.
func (s *SampleStore) ReadAll() (Series, error) {
	return ReadSeriesFile(s.path)
}

// ReadSeriesFile decodes a sample file written by SampleStore.
func ReadSeriesFile(path string) (Series, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Series{}, nil
		}
		return nil, fmt.Errorf("read samples: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Series{}, nil
	}

	var series Series
	if err := json.Unmarshal(data, &series); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if series == nil {
		series = Series{}
	}
	return series, nil
}

// WriteFileAtomic replaces path with data through a temp file and rename so
// readers never observe a partial write.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

var (
	_ SampleAppender = (*SampleStore)(nil)
	_ SampleReader   = (*SampleStore)(nil)
)
