package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/daumittal/carprice/internal/config"
)

const maxOutputBytes = 4096

// CommandStage delegates a stage to an external program. The program receives the
// resolved paths of the stage, and of the stages it depends on, as CARPRICE_*
// environment variables and runs in the root directory.
type CommandStage struct {
	StageName string
	Command   []string
	Env       func(r *config.Resolver) (map[string]string, error)
}

// NewTransformationStage runs command with the ingestion and transformation paths.
func NewTransformationStage(command []string) *CommandStage {
	return &CommandStage{StageName: config.DataTransformationDirName, Command: command, Env: transformationEnv}
}

// NewTrainerStage runs command with the transformation and trainer paths.
func NewTrainerStage(command []string) *CommandStage {
	return &CommandStage{StageName: config.ModelTrainerDirName, Command: command, Env: trainerEnv}
}

// NewEvaluationStage runs command with the trainer and evaluation paths.
func NewEvaluationStage(command []string) *CommandStage {
	return &CommandStage{StageName: config.ModelEvaluationDirName, Command: command, Env: evaluationEnv}
}

func (s *CommandStage) Name() string { return s.StageName }

func (s *CommandStage) Run(ctx context.Context, run *Run) error {
	if len(s.Command) == 0 || strings.TrimSpace(s.Command[0]) == "" {
		return errors.New("command is required")
	}
	vars := map[string]string{}
	if s.Env != nil {
		var err error
		if vars, err = s.Env(run.Config); err != nil {
			return err
		}
	}

	cmd := exec.CommandContext(ctx, s.Command[0], s.Command[1:]...)
	cmd.Dir = run.Config.RootDir()
	cmd.Env = append(os.Environ(), commandEnv(run, vars)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if out := strings.TrimSpace(stdout.String()); out != "" {
		run.Logger.Info("stage command output", "stage", s.StageName, "stdout", truncate(out))
	}
	if err != nil {
		return fmt.Errorf("command %s failed: %w: %s", s.Command[0], err, truncate(strings.TrimSpace(stderr.String())))
	}
	return nil
}

func commandEnv(run *Run, vars map[string]string) []string {
	out := []string{
		"CARPRICE_RUN_ID=" + run.ID,
		"CARPRICE_TIMESTAMP=" + string(run.Timestamp),
		"CARPRICE_ARTIFACT_DIR=" + run.Config.TrainingPipelineConfig().ArtifactDir,
	}
	for _, k := range sortedKeys(vars) {
		out = append(out, k+"="+vars[k])
	}
	return out
}

func truncate(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[len(s)-maxOutputBytes:]
}

func transformationEnv(r *config.Resolver) (map[string]string, error) {
	ingestion, err := r.DataIngestionConfig()
	if err != nil {
		return nil, err
	}
	validation, err := r.DataValidationConfig()
	if err != nil {
		return nil, err
	}
	transformation, err := r.DataTransformationConfig()
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"CARPRICE_DATA_FILE_NAME":           ingestion.LocalFileName,
		"CARPRICE_INGESTED_TRAIN_DIR":       ingestion.IngestedTrainDir,
		"CARPRICE_INGESTED_TEST_DIR":        ingestion.IngestedTestDir,
		"CARPRICE_SCHEMA_FILE_PATH":         validation.SchemaFilePath,
		"CARPRICE_PREPROCESSED_OBJECT_PATH": transformation.PreprocessedObjectFilePath,
		"CARPRICE_TRANSFORMED_TRAIN_DIR":    transformation.TransformedTrainDir,
		"CARPRICE_TRANSFORMED_TEST_DIR":     transformation.TransformedTestDir,
		"CARPRICE_TRANSFORMATION_STAGE_DIR": transformation.StageDir,
	}, nil
}

func trainerEnv(r *config.Resolver) (map[string]string, error) {
	transformation, err := r.DataTransformationConfig()
	if err != nil {
		return nil, err
	}
	trainer, err := r.ModelTrainerConfig()
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"CARPRICE_PREPROCESSED_OBJECT_PATH": transformation.PreprocessedObjectFilePath,
		"CARPRICE_TRANSFORMED_TRAIN_DIR":    transformation.TransformedTrainDir,
		"CARPRICE_TRANSFORMED_TEST_DIR":     transformation.TransformedTestDir,
		"CARPRICE_TRAINED_MODEL_PATH":       trainer.TrainedModelFilePath,
		"CARPRICE_BASE_ACCURACY":            strconv.FormatFloat(trainer.BaseAccuracy, 'f', -1, 64),
		"CARPRICE_MODEL_CONFIG_PATH":        trainer.ModelConfigFilePath,
	}, nil
}

func evaluationEnv(r *config.Resolver) (map[string]string, error) {
	transformation, err := r.DataTransformationConfig()
	if err != nil {
		return nil, err
	}
	trainer, err := r.ModelTrainerConfig()
	if err != nil {
		return nil, err
	}
	evaluation, err := r.ModelEvaluationConfig()
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"CARPRICE_TRANSFORMED_TEST_DIR": transformation.TransformedTestDir,
		"CARPRICE_TRAINED_MODEL_PATH":   trainer.TrainedModelFilePath,
		"CARPRICE_BASE_ACCURACY":        strconv.FormatFloat(trainer.BaseAccuracy, 'f', -1, 64),
		"CARPRICE_EVALUATION_FILE_PATH": evaluation.ModelEvaluationFilePath,
		"CARPRICE_EVALUATED_TIMESTAMP":  evaluation.RunTimestamp.String(),
	}, nil
}
