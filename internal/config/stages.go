package config

import "path/filepath"

// TrainingPipelineConfig holds the artifact root shared by every stage of a run.
type TrainingPipelineConfig struct {
	ArtifactDir string
}

type DataIngestionConfig struct {
	StageDir         string
	BucketName       string
	ObjectName       string
	LocalFileName    string
	RawDataDir       string
	IngestedTrainDir string
	IngestedTestDir  string
}

// RawDataFilePath is where the downloaded dataset is stored.
func (c DataIngestionConfig) RawDataFilePath() string {
	return filepath.Join(c.RawDataDir, c.LocalFileName)
}

type DataValidationConfig struct {
	StageDir           string
	SchemaFilePath     string
	ReportFilePath     string
	ReportPageFilePath string
}

type DataTransformationConfig struct {
	StageDir                   string
	PreprocessedObjectFilePath string
	TransformedTrainDir        string
	TransformedTestDir         string
}

type ModelTrainerConfig struct {
	StageDir             string
	TrainedModelFilePath string
	BaseAccuracy         float64
	ModelConfigFilePath  string
}

// ModelEvaluationConfig points at the evaluation history file, which is shared
// across runs, and carries the timestamp of the run being evaluated.
type ModelEvaluationConfig struct {
	StageDir                string
	ModelEvaluationFilePath string
	RunTimestamp            RunTimestamp
}

type ModelPusherConfig struct {
	ExportDirPath string
}
