package alert

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"sherlog-detector/internal/model"

	json "github.com/goccy/go-json"
)

// FileAlertNotifier appends one JSON document per alert
type FileAlertNotifier struct {
	mu     sync.Mutex
	w      *bufio.Writer
	enc    *json.Encoder
	closer io.Closer
}

// NewFileAlertNotifier opens path for appending
func NewFileAlertNotifier(path string) (*FileAlertNotifier, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open alert file: %w", err)
	}
	n := NewWriterAlertNotifier(f)
	n.closer = f
	return n, nil
}

// NewWriterAlertNotifier writes alerts to any writer
func NewWriterAlertNotifier(w io.Writer) *FileAlertNotifier {
	bw := bufio.NewWriter(w)
	return &FileAlertNotifier{w: bw, enc: json.NewEncoder(bw)}
}

func (n *FileAlertNotifier) SendAlert(alert model.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.enc.Encode(alert); err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}
	return n.w.Flush()
}

// Close flushes and closes the underlying file, if any
func (n *FileAlertNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.w.Flush(); err != nil {
		return err
	}
	if n.closer != nil {
		return n.closer.Close()
	}
	return nil
}
