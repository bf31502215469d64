package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FailureLog appends failed attachment transfers to an audit file, one
// tab-separated line per failure.
type FailureLog struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewFailureLog creates an audit log writing to path.
func NewFailureLog(path string, logger *zap.Logger) *FailureLog {
	return &FailureLog{path: path, logger: logger}
}

// Append records one failed transfer. Errors are logged, not returned; the
// audit log is best-effort.
func (fl *FailureLog) Append(errStr, guid, name string, totalBytes int64) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(fl.path), 0700); err != nil {
		fl.logger.Error("failed to create failure log dir", zap.Error(err))
		return
	}
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		fl.logger.Error("failed to open failure log", zap.Error(err))
		return
	}
	defer func() { _ = f.Close() }()

	line := fmt.Sprintf("%s\t%s\t%s\t%s\t%d bytes\n",
		time.Now().Format(time.RFC3339), errStr, guid, name, totalBytes)
	if _, err := f.WriteString(line); err != nil {
		fl.logger.Error("failed to write failure log", zap.Error(err))
	}
}
