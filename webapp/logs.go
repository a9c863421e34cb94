package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/daumittal/carprice/internal/config"
	"github.com/daumittal/carprice/internal/fsutil"
)

// openLogFile creates logs/log_<timestamp>.log for this process.
func openLogFile(dir string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, fsutil.DirPerm); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, "log_"+config.NewRunTimestamp(now).String()+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, fsutil.FilePerm)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

func newLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, nil))
}

const maxLogLine = 1 << 20

// readLogRecords parses a JSON-lines log file. Lines that are not JSON objects are
// kept as {"msg": line}.
func readLogRecords(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &fsutil.PathError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	records := []map[string]any{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLogLine)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil || rec == nil {
			rec = map[string]any{"msg": line}
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, &fsutil.PathError{Op: "read", Path: path, Err: fmt.Errorf("%w: %w", fsutil.ErrDecode, err)}
	}
	return records, nil
}
