package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/daumittal/carprice/internal/fsutil"
)

const (
	pusherStageName    = "model_pusher"
	exportManifestName = "export.yaml"
)

// ExportManifest describes what an export directory holds.
type ExportManifest struct {
	RunID        string    `yaml:"run_id"`
	RunTimestamp string    `yaml:"run_timestamp"`
	ExportedAt   time.Time `yaml:"exported_at"`
	ModelFile    string    `yaml:"model_file"`
	ModelConfig  string    `yaml:"model_config"`
	BaseAccuracy float64   `yaml:"base_accuracy"`
}

// PusherStage copies the trained model and its model config into a freshly
// stamped export directory.
type PusherStage struct {
	Clock func() time.Time
}

func (s *PusherStage) Name() string { return pusherStageName }

func (s *PusherStage) Run(ctx context.Context, run *Run) error {
	trainer, err := run.Config.ModelTrainerConfig()
	if err != nil {
		return err
	}
	pusher, err := run.Config.ModelPusherConfig()
	if err != nil {
		return err
	}

	manifest := ExportManifest{
		RunID:        run.ID,
		RunTimestamp: string(run.Timestamp),
		ModelFile:    filepath.Base(trainer.TrainedModelFilePath),
		ModelConfig:  filepath.Base(trainer.ModelConfigFilePath),
		BaseAccuracy: trainer.BaseAccuracy,
	}
	if err := fsutil.CopyFile(trainer.TrainedModelFilePath, filepath.Join(pusher.ExportDirPath, manifest.ModelFile)); err != nil {
		return fmt.Errorf("export model: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fsutil.CopyFile(trainer.ModelConfigFilePath, filepath.Join(pusher.ExportDirPath, manifest.ModelConfig)); err != nil {
		return fmt.Errorf("export model config: %w", err)
	}

	now := time.Now
	if s.Clock != nil {
		now = s.Clock
	}
	manifest.ExportedAt = now().UTC()
	if err := fsutil.WriteYAML(filepath.Join(pusher.ExportDirPath, exportManifestName), manifest); err != nil {
		return fmt.Errorf("write export manifest: %w", err)
	}
	run.Logger.Info("model exported", "export_dir", pusher.ExportDirPath, "model", manifest.ModelFile)
	return nil
}

// DefaultStages returns the full training sequence. Commands left empty skip the
// corresponding stage; without a trainer there is nothing to push.
func DefaultStages(ingestion *IngestionStage, transformCmd, trainCmd, evaluateCmd []string) []Stage {
	stages := []Stage{ingestion, &ValidationStage{}}
	if len(transformCmd) > 0 {
		stages = append(stages, NewTransformationStage(transformCmd))
	}
	if len(trainCmd) == 0 {
		return stages
	}
	stages = append(stages, NewTrainerStage(trainCmd))
	if len(evaluateCmd) > 0 {
		stages = append(stages, NewEvaluationStage(evaluateCmd))
	}
	return append(stages, &PusherStage{})
}
