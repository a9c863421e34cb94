package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/daumittal/carprice/internal/config"
	"github.com/daumittal/carprice/internal/fsutil"
)

var ErrSchemaMismatch = errors.New("dataset does not match schema")

// Schema lists the expected dataset columns and their types.
type Schema struct {
	Columns map[string]string `yaml:"columns"`
}

type ColumnIssue struct {
	File   string `json:"file"`
	Column string `json:"column"`
	Row    int    `json:"row,omitempty"`
	Reason string `json:"reason"`
}

type ValidationReport struct {
	RunTimestamp string        `json:"run_timestamp"`
	CheckedAt    time.Time     `json:"checked_at"`
	Files        []string      `json:"files"`
	Valid        bool          `json:"valid"`
	Issues       []ColumnIssue `json:"issues,omitempty"`
}

// ValidationStage checks the ingested train and test files against the schema
// and writes a JSON report and an HTML page. A failed check stops the run after
// both documents are written.
type ValidationStage struct {
	Clock func() time.Time
}

func (s *ValidationStage) Name() string { return config.DataValidationDirName }

func (s *ValidationStage) Run(ctx context.Context, run *Run) error {
	ingestion, err := run.Config.DataIngestionConfig()
	if err != nil {
		return err
	}
	cfg, err := run.Config.DataValidationConfig()
	if err != nil {
		return err
	}

	var schema Schema
	if err := fsutil.ReadYAML(cfg.SchemaFilePath, &schema); err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	if len(schema.Columns) == 0 {
		return fmt.Errorf("schema %s declares no columns", cfg.SchemaFilePath)
	}

	now := time.Now
	if s.Clock != nil {
		now = s.Clock
	}
	report := ValidationReport{RunTimestamp: string(run.Timestamp), CheckedAt: now().UTC()}
	for _, path := range []string{
		filepath.Join(ingestion.IngestedTrainDir, ingestion.LocalFileName),
		filepath.Join(ingestion.IngestedTestDir, ingestion.LocalFileName),
	} {
		if err := ctx.Err(); err != nil {
			return err
		}
		issues, err := checkFile(path, schema)
		if err != nil {
			return err
		}
		report.Files = append(report.Files, path)
		report.Issues = append(report.Issues, issues...)
	}
	report.Valid = len(report.Issues) == 0

	if err := writeReport(cfg.ReportFilePath, report); err != nil {
		return err
	}
	if err := writeReportPage(cfg.ReportPageFilePath, report); err != nil {
		return err
	}
	run.Logger.Info("validation report written", "path", cfg.ReportFilePath, "page", cfg.ReportPageFilePath, "valid", report.Valid, "issues", len(report.Issues))

	if !report.Valid {
		return fmt.Errorf("%w: %d issues, see %s", ErrSchemaMismatch, len(report.Issues), cfg.ReportFilePath)
	}
	return nil
}

const maxIssuesPerColumn = 5

func checkFile(path string, schema Schema) ([]ColumnIssue, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &fsutil.PathError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, &fsutil.PathError{Op: "read", Path: path, Err: fmt.Errorf("%w: %w", fsutil.ErrDecode, err)}
	}

	var issues []ColumnIssue
	seen := map[string]bool{}
	for _, col := range header {
		seen[col] = true
		if _, ok := schema.Columns[col]; !ok {
			issues = append(issues, ColumnIssue{File: path, Column: col, Reason: "not in schema"})
		}
	}
	for _, col := range sortedKeys(schema.Columns) {
		if !seen[col] {
			issues = append(issues, ColumnIssue{File: path, Column: col, Reason: "missing from dataset"})
		}
	}

	perColumn := map[string]int{}
	for row := 2; ; row++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &fsutil.PathError{Op: "read", Path: path, Err: fmt.Errorf("%w: %w", fsutil.ErrDecode, err)}
		}
		for i, value := range record {
			if i >= len(header) {
				break
			}
			col := header[i]
			typ, ok := schema.Columns[col]
			if !ok || perColumn[col] >= maxIssuesPerColumn {
				continue
			}
			if reason := checkValue(typ, value); reason != "" {
				perColumn[col]++
				issues = append(issues, ColumnIssue{File: path, Column: col, Row: row, Reason: reason})
			}
		}
	}
	return issues, nil
}

// checkValue reports why value cannot be read as typ, or "" when it can.
// Empty values are left to the transformation step.
func checkValue(typ, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "int", "int32", "int64":
		if _, err := strconv.ParseInt(value, 10, 64); err != nil {
			return fmt.Sprintf("%q is not an integer", value)
		}
	case "float", "float32", "float64":
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return fmt.Sprintf("%q is not a number", value)
		}
	case "bool":
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Sprintf("%q is not a boolean", value)
		}
	}
	return ""
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeReport(path string, report ValidationReport) error {
	return fsutil.WriteFileAtomic(path, fsutil.FilePerm, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	})
}

var reportPage = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Data validation {{.RunTimestamp}}</title></head>
<body>
<h1>Data validation {{.RunTimestamp}}</h1>
<p>Checked at {{.CheckedAt.Format "2006-01-02 15:04:05 MST"}}: {{if .Valid}}valid{{else}}{{len .Issues}} issues{{end}}</p>
<ul>{{range .Files}}<li>{{.}}</li>{{end}}</ul>
{{if .Issues}}<table>
<tr><th>File</th><th>Column</th><th>Row</th><th>Reason</th></tr>
{{range .Issues}}<tr><td>{{.File}}</td><td>{{.Column}}</td><td>{{if .Row}}{{.Row}}{{end}}</td><td>{{.Reason}}</td></tr>
{{end}}</table>{{end}}
</body>
</html>
`))

func writeReportPage(path string, report ValidationReport) error {
	return fsutil.WriteFileAtomic(path, fsutil.FilePerm, func(w io.Writer) error {
		return reportPage.Execute(w, report)
	})
}
