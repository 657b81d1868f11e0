package rawjsonl

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"threatlog/internal/logger"
)

// Writer appends raw submissions, one per line, in the format `threatlog
// replay` reads back.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
}

// NewWriter opens path for appending.
func NewWriter(path string) (*Writer, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create capture directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	logger.Infof("Replay capture enabled: %s", path)
	return &Writer{file: f, buf: bufio.NewWriter(f)}, nil
}

// WriteRawMessages writes each message on its own line. Embedded newlines
// are dropped so a message never spans lines.
func (w *Writer) WriteRawMessages(messages [][]byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("capture writer is closed")
	}
	for _, msg := range messages {
		line := bytes.TrimSpace(msg)
		if len(line) == 0 {
			continue
		}
		if bytes.ContainsAny(line, "\r\n") {
			line = bytes.Map(func(r rune) rune {
				if r == '\n' || r == '\r' {
					return -1
				}
				return r
			}, line)
		}
		if _, err := w.buf.Write(line); err != nil {
			return err
		}
		if err := w.buf.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.buf.Flush()
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.buf.Flush()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.file = nil
	return err
}
