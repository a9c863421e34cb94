package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/daumittal/carprice/internal/fsutil"
	"github.com/daumittal/carprice/internal/platform/objectstore"
)

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestIngestionStage_MissingObject(t *testing.T) {
	root, path := setupRoot(t, testDocument)
	stage := &IngestionStage{Store: &fakeObjects{objects: map[string][]byte{}}}
	err := stage.Run(context.Background(), testRun(t, root, path))
	if !errors.Is(err, objectstore.ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestIngestionStage_RequiresStore(t *testing.T) {
	root, path := setupRoot(t, testDocument)
	if err := (&IngestionStage{}).Run(context.Background(), testRun(t, root, path)); err == nil {
		t.Fatalf("expected error without store")
	}
}

func TestSplitCSV(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "raw.csv")
	if err := os.WriteFile(src, datasetCSV(7), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	train, test, err := splitCSV(src, filepath.Join(dir, "train.csv"), filepath.Join(dir, "test.csv"), 3)
	if err != nil {
		t.Fatalf("splitCSV() err=%v", err)
	}
	if train != 5 || test != 2 {
		t.Fatalf("train=%d test=%d", train, test)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "test.csv"))
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "car_name,") || !strings.HasPrefix(lines[1], "car-2,") || !strings.HasPrefix(lines[2], "car-5,") {
		t.Fatalf("test split=%q", lines)
	}
}

func TestSplitCSV_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"header only", "a,b\n"},
		{"too few rows", "a,b\n1,2\n"},
		{"ragged", "a,b\n1,2\n3\n4,5\n6,7\n8,9\n"},
	}
	for _, tt := range tests {
		src := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".csv")
		if err := os.WriteFile(src, []byte(tt.content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		trainPath := filepath.Join(dir, tt.name, "train.csv")
		if _, _, err := splitCSV(src, trainPath, filepath.Join(dir, tt.name, "test.csv"), 5); err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
		if ok, _ := fsutil.Exists(trainPath); ok {
			t.Fatalf("%s: train split written on error", tt.name)
		}
	}
}

func TestValidationStage_SchemaMismatch(t *testing.T) {
	root, path := setupRoot(t, testDocument)
	run := testRun(t, root, path)
	ingestion, err := run.Config.DataIngestionConfig()
	if err != nil {
		t.Fatalf("DataIngestionConfig() err=%v", err)
	}
	bad := "car_name,year,km_driven,mileage,selling_price,owner\nswift,twenty,100,15.5,300000,first\n"
	good := string(datasetCSV(2))
	for dir, content := range map[string]string{ingestion.IngestedTrainDir: bad, ingestion.IngestedTestDir: good} {
		if err := fsutil.WriteFile(filepath.Join(dir, ingestion.LocalFileName), []byte(content)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	err = (&ValidationStage{Clock: testClock}).Run(context.Background(), run)
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}

	cfg, _ := run.Config.DataValidationConfig()
	report, err := os.ReadFile(cfg.ReportFilePath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	for _, want := range []string{`"valid": false`, `"column": "owner"`, `"reason": "not in schema"`, `"column": "year"`, `"row": 2`} {
		if !strings.Contains(string(report), want) {
			t.Fatalf("report missing %s:\n%s", want, report)
		}
	}
	page, err := os.ReadFile(cfg.ReportPageFilePath)
	if err != nil {
		t.Fatalf("read page: %v", err)
	}
	if !strings.Contains(string(page), "owner") || !strings.Contains(string(page), "2 issues") {
		t.Fatalf("page=%s", page)
	}
}

func TestValidationStage_MissingSchema(t *testing.T) {
	root, path := setupRoot(t, testDocument)
	if err := os.Remove(filepath.Join(root, "config", "schema.yaml")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	err := (&ValidationStage{}).Run(context.Background(), testRun(t, root, path))
	if !errors.Is(err, fsutil.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCheckValue(t *testing.T) {
	tests := []struct {
		typ, value string
		ok         bool
	}{
		{"int", "2015", true},
		{"int64", "20.5", false},
		{"float", "18.9", true},
		{"float64", "abc", false},
		{"bool", "true", true},
		{"bool", "maybe", false},
		{"category", "anything", true},
		{"int", "", true},
	}
	for _, tt := range tests {
		if got := checkValue(tt.typ, tt.value) == ""; got != tt.ok {
			t.Fatalf("checkValue(%q, %q) ok=%v want %v", tt.typ, tt.value, got, tt.ok)
		}
	}
}

func TestCommandStage_PassesResolvedPaths(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	root, path := setupRoot(t, testDocument)
	run := testRun(t, root, path)
	stage := NewTrainerStage([]string{"sh", "-c", `printf '%s|%s|%s' "$CARPRICE_TRAINED_MODEL_PATH" "$CARPRICE_BASE_ACCURACY" "$CARPRICE_RUN_ID" > env.txt`})

	if err := stage.Run(context.Background(), run); err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "env.txt"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	cfg, _ := run.Config.ModelTrainerConfig()
	if want := cfg.TrainedModelFilePath + "|0.6|run-1"; string(data) != want {
		t.Fatalf("env=%q want %q", data, want)
	}
}

func TestCommandStage_Failure(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	root, path := setupRoot(t, testDocument)
	stage := NewEvaluationStage([]string{"sh", "-c", "echo accuracy below base >&2; exit 3"})
	err := stage.Run(context.Background(), testRun(t, root, path))
	if err == nil || !strings.Contains(err.Error(), "accuracy below base") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
	if err := (&CommandStage{StageName: "empty"}).Run(context.Background(), testRun(t, root, path)); err == nil {
		t.Fatalf("expected error for empty command")
	}
}

func TestPusherStage_MissingModel(t *testing.T) {
	root, path := setupRoot(t, testDocument)
	err := (&PusherStage{}).Run(context.Background(), testRun(t, root, path))
	if !errors.Is(err, fsutil.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if ok, _ := fsutil.Exists(filepath.Join(root, "saved_models", "20240101120000")); ok {
		t.Fatalf("export dir created without a model")
	}
}
