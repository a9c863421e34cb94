package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/daumittal/carprice/internal/config"
	"github.com/daumittal/carprice/internal/fsutil"
	"github.com/daumittal/carprice/internal/platform/objectstore"
)

const defaultTestEvery = 5

// IngestionStage downloads the raw dataset and splits it into train and test files.
// Every TestEvery-th data row goes to the test split, so the split is reproducible.
type IngestionStage struct {
	Store     objectstore.Store
	TestEvery int
}

func (s *IngestionStage) Name() string { return config.DataIngestionDirName }

func (s *IngestionStage) Run(ctx context.Context, run *Run) error {
	if s.Store == nil {
		return errors.New("object store is required")
	}
	cfg, err := run.Config.DataIngestionConfig()
	if err != nil {
		return err
	}

	rawPath := cfg.RawDataFilePath()
	info, err := objectstore.Download(ctx, s.Store, cfg.BucketName, cfg.ObjectName, rawPath)
	if err != nil {
		return err
	}
	run.Logger.Info("dataset downloaded", "bucket", cfg.BucketName, "object", cfg.ObjectName, "path", rawPath, "size", info.Size)

	every := s.TestEvery
	if every < 2 {
		every = defaultTestEvery
	}
	trainPath := filepath.Join(cfg.IngestedTrainDir, cfg.LocalFileName)
	testPath := filepath.Join(cfg.IngestedTestDir, cfg.LocalFileName)
	train, test, err := splitCSV(rawPath, trainPath, testPath, every)
	if err != nil {
		return err
	}
	run.Logger.Info("dataset split", "train_rows", train, "test_rows", test, "train_path", trainPath, "test_path", testPath)
	return nil
}

func splitCSV(src, trainPath, testPath string, every int) (int, int, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, 0, &fsutil.PathError{Op: "open", Path: src, Err: err}
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, 0, fmt.Errorf("dataset %s is empty", src)
		}
		return 0, 0, &fsutil.PathError{Op: "read", Path: src, Err: fmt.Errorf("%w: %w", fsutil.ErrDecode, err)}
	}
	var trainRows, testRows [][]string
	for i := 0; ; i++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, 0, &fsutil.PathError{Op: "read", Path: src, Err: fmt.Errorf("%w: %w", fsutil.ErrDecode, err)}
		}
		if i%every == every-1 {
			testRows = append(testRows, record)
		} else {
			trainRows = append(trainRows, record)
		}
	}
	if len(trainRows) == 0 || len(testRows) == 0 {
		return 0, 0, fmt.Errorf("dataset %s has too few rows to split: %d", src, len(trainRows)+len(testRows))
	}

	if err := writeCSV(trainPath, header, trainRows); err != nil {
		return 0, 0, err
	}
	if err := writeCSV(testPath, header, testRows); err != nil {
		return 0, 0, err
	}
	return len(trainRows), len(testRows), nil
}

func writeCSV(path string, header []string, rows [][]string) error {
	return fsutil.WriteFileAtomic(path, fsutil.FilePerm, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return err
		}
		if err := cw.WriteAll(rows); err != nil {
			return err
		}
		return cw.Error()
	})
}
