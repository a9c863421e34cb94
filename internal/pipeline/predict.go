package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/daumittal/carprice/internal/fsutil"
)

var (
	ErrNoExport   = errors.New("no exported model")
	ErrPrediction = errors.New("prediction failed")
)

// Export is one directory written by PusherStage.
type Export struct {
	Name     string
	Dir      string
	Manifest ExportManifest
}

func (e Export) ModelPath() string { return filepath.Join(e.Dir, e.Manifest.ModelFile) }
func (e Export) ModelConfigPath() string { return filepath.Join(e.Dir, e.Manifest.ModelConfig) }

// LatestExport returns the newest export under modelRoot. Export directories are
// named by their stamp, so the greatest name wins. Directories without a manifest
// are skipped as incomplete.
func LatestExport(modelRoot string) (Export, error) {
	entries, err := os.ReadDir(modelRoot)
	if errors.Is(err, fs.ErrNotExist) {
		return Export{}, ErrNoExport
	}
	if err != nil {
		return Export{}, &fsutil.PathError{Op: "read", Path: modelRoot, Err: err}
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	for _, name := range names {
		dir := filepath.Join(modelRoot, name)
		manifestPath := filepath.Join(dir, exportManifestName)
		ok, err := fsutil.Exists(manifestPath)
		if err != nil {
			return Export{}, err
		}
		if !ok {
			continue
		}
		var manifest ExportManifest
		if err := fsutil.ReadYAML(manifestPath, &manifest); err != nil {
			return Export{}, err
		}
		if strings.TrimSpace(manifest.ModelFile) == "" {
			return Export{}, fmt.Errorf("export manifest %s names no model file", manifestPath)
		}
		return Export{Name: name, Dir: dir, Manifest: manifest}, nil
	}
	return Export{}, ErrNoExport
}

// Predictor scores a single record with an exported model by running Command.
// The record is written to stdin as JSON and stdout must hold one JSON object.
type Predictor struct {
	Command []string
	Dir     string
	Timeout time.Duration
}

func (p *Predictor) Predict(ctx context.Context, export Export, record map[string]any) (map[string]any, error) {
	if len(p.Command) == 0 || strings.TrimSpace(p.Command[0]) == "" {
		return nil, errors.New("command is required")
	}
	input, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, p.Command[0], p.Command[1:]...)
	cmd.Dir = p.Dir
	cmd.Env = append(os.Environ(),
		"CARPRICE_EXPORT_DIR="+export.Dir,
		"CARPRICE_MODEL_PATH="+export.ModelPath(),
		"CARPRICE_MODEL_CONFIG_PATH="+export.ModelConfigPath(),
		"CARPRICE_RUN_ID="+export.Manifest.RunID,
	)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: command %s: %w: %s", ErrPrediction, p.Command[0], err, truncate(strings.TrimSpace(stderr.String())))
	}
	var out map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil || out == nil {
		return nil, fmt.Errorf("%w: output is not a JSON object: %s", ErrPrediction, truncate(strings.TrimSpace(stdout.String())))
	}
	return out, nil
}
