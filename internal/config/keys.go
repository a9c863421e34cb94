package config

import "path/filepath"

// Default location of the pipeline document relative to the working directory.
const (
	DefaultConfigDir      = "config"
	DefaultConfigFileName = "config.yaml"
)

// Top-level sections of the pipeline document.
const (
	KeyTrainingPipeline   = "training_pipeline_config"
	KeyDataIngestion      = "data_ingestion_config"
	KeyDataValidation     = "data_validation_config"
	KeyDataTransformation = "data_transformation_config"
	KeyModelTrainer       = "model_trainer_config"
	KeyModelEvaluation    = "model_evaluation_config"
	KeyModelPusher        = "model_pusher_config"
)

// Stage artifact directory names under the pipeline artifact root.
const (
	DataIngestionDirName      = "data_ingestion"
	DataValidationDirName     = "data_validation"
	DataTransformationDirName = "data_transformation"
	ModelTrainerDirName       = "model_trainer"
	ModelEvaluationDirName    = "model_evaluation"

	// Split directories are named after the mapping key that holds them.
	ingestedDirName    = "ingested_dir"
	transformedDirName = "transformed_dir"
)

// DefaultConfigPath returns <root>/config/config.yaml.
func DefaultConfigPath(root string) string {
	return filepath.Join(root, DefaultConfigDir, DefaultConfigFileName)
}
