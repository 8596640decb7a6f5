package log2

import (
	"io"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	DefaultFileMaxSizeMB  = 5
	DefaultFileMaxBackups = 5
)

type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewFile writes to stderr and rotated file at the same time.
// Returned closer must be called on exit to flush the file.
func NewFile(fc FileConfig, level Level) (*Log, io.Closer, error) {
	if fc.Path == "" {
		return NewStderr(level), nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(fc.Path), 0755); err != nil {
		return nil, nil, err
	}
	if fc.MaxSizeMB <= 0 {
		fc.MaxSizeMB = DefaultFileMaxSizeMB
	}
	if fc.MaxBackups <= 0 {
		fc.MaxBackups = DefaultFileMaxBackups
	}
	rot := &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.MaxSizeMB,
		MaxBackups: fc.MaxBackups,
	}
	return NewWriter(io.MultiWriter(os.Stderr, rot), level), rot, nil
}
