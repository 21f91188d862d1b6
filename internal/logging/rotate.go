package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultMaxFileBytes is the default per-category file cap (8 MiB).
const DefaultMaxFileBytes = 8 << 20

const rotationMarker = "--- log rotated: earlier records in this file were truncated ---\n"

// rotatingFile is an append-only file capped at maxBytes. When a write
// would exceed the cap the file is truncated and a marker line is written
// first, so a rotation is never silent.
type rotatingFile struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	file     *os.File
	size     int64
}

func newRotatingFile(path string, maxBytes int64) (*rotatingFile, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &rotatingFile{path: path, maxBytes: maxBytes, file: f, size: info.Size()}, nil
}

func (rf *rotatingFile) writeLine(line string) error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	data := []byte(line)
	if rf.size+int64(len(data)) > rf.maxBytes {
		if err := rf.file.Truncate(0); err != nil {
			return err
		}
		if _, err := rf.file.Seek(0, 0); err != nil {
			return err
		}
		rf.size = 0
		n, err := rf.file.WriteString(rotationMarker)
		if err != nil {
			return err
		}
		rf.size += int64(n)
	}

	n, err := rf.file.WriteString(line)
	rf.size += int64(n)
	return err
}

func (rf *rotatingFile) close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.file.Close()
}
