package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Resolver derives the directory and file layout of each pipeline stage from a
// configuration document and a run timestamp. It only computes paths; nothing is
// created on disk. A Resolver is immutable after construction.
//
// Every stage except evaluation and pushing nests its artifacts under
// <artifact root>/<stage>/<run timestamp>. Evaluation results accumulate in one
// static directory across runs. Exports are stamped with the clock at the time
// the pusher config is requested, so each push lands in its own directory.
type Resolver struct {
	doc      *Document
	rootDir  string
	pipeline TrainingPipelineConfig
	ts       RunTimestamp
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Resolver)

// WithRootDir overrides the working directory used as the root of all paths.
func WithRootDir(dir string) Option {
	return func(r *Resolver) { r.rootDir = dir }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock sets the clock used to stamp export directories.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResolver loads the document at path and resolves the pipeline artifact root.
// It fails with *LoadError when the document cannot be read or decoded and with
// *KeyError when the training pipeline section is incomplete.
func NewResolver(path string, ts RunTimestamp, opts ...Option) (*Resolver, error) {
	doc, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewResolverFromDocument(doc, ts, opts...)
}

func NewResolverFromDocument(doc *Document, ts RunTimestamp, opts ...Option) (*Resolver, error) {
	if doc == nil {
		return nil, errors.New("config document is required")
	}
	if strings.TrimSpace(string(ts)) == "" {
		return nil, errors.New("run timestamp is required")
	}
	r := &Resolver{
		doc:    doc,
		ts:     ts,
		now:    time.Now,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.rootDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("working directory: %w", err)
		}
		r.rootDir = wd
	}

	pipeline, errs := r.trainingPipeline()
	if len(errs) > 0 {
		return nil, errs[0]
	}
	r.pipeline = pipeline
	r.logger.Info("training pipeline config", "artifact_dir", pipeline.ArtifactDir, "timestamp", string(ts))
	return r, nil
}

func (r *Resolver) Timestamp() RunTimestamp { return r.ts }

func (r *Resolver) RootDir() string { return r.rootDir }

func (r *Resolver) TrainingPipelineConfig() TrainingPipelineConfig { return r.pipeline }

// Validate checks every stage section and returns all key errors joined.
func (r *Resolver) Validate() error {
	var errs []error
	_, e := r.dataIngestion()
	errs = append(errs, e...)
	_, e = r.dataValidation()
	errs = append(errs, e...)
	_, e = r.dataTransformation()
	errs = append(errs, e...)
	_, e = r.modelTrainer()
	errs = append(errs, e...)
	_, e = r.modelEvaluation()
	errs = append(errs, e...)
	_, e = r.modelPusher(r.now())
	errs = append(errs, e...)
	return errors.Join(errs...)
}

func (r *Resolver) DataIngestionConfig() (DataIngestionConfig, error) {
	cfg, errs := r.dataIngestion()
	if len(errs) > 0 {
		return DataIngestionConfig{}, errs[0]
	}
	r.logger.Info("data ingestion config", "config", cfg)
	return cfg, nil
}

func (r *Resolver) DataValidationConfig() (DataValidationConfig, error) {
	cfg, errs := r.dataValidation()
	if len(errs) > 0 {
		return DataValidationConfig{}, errs[0]
	}
	r.logger.Info("data validation config", "config", cfg)
	return cfg, nil
}

func (r *Resolver) DataTransformationConfig() (DataTransformationConfig, error) {
	cfg, errs := r.dataTransformation()
	if len(errs) > 0 {
		return DataTransformationConfig{}, errs[0]
	}
	r.logger.Info("data transformation config", "config", cfg)
	return cfg, nil
}

func (r *Resolver) ModelTrainerConfig() (ModelTrainerConfig, error) {
	cfg, errs := r.modelTrainer()
	if len(errs) > 0 {
		return ModelTrainerConfig{}, errs[0]
	}
	r.logger.Info("model trainer config", "config", cfg)
	return cfg, nil
}

func (r *Resolver) ModelEvaluationConfig() (ModelEvaluationConfig, error) {
	cfg, errs := r.modelEvaluation()
	if len(errs) > 0 {
		return ModelEvaluationConfig{}, errs[0]
	}
	r.logger.Info("model evaluation config", "config", cfg)
	return cfg, nil
}

// ModelPusherConfig is not idempotent: every call stamps a new export directory.
func (r *Resolver) ModelPusherConfig() (ModelPusherConfig, error) {
	cfg, errs := r.modelPusher(r.now())
	if len(errs) > 0 {
		return ModelPusherConfig{}, errs[0]
	}
	r.logger.Info("model pusher config", "config", cfg)
	return cfg, nil
}

func (r *Resolver) trainingPipeline() (TrainingPipelineConfig, []error) {
	sec := r.doc.TrainingPipeline
	if sec == nil {
		return TrainingPipelineConfig{}, missingSection(KeyTrainingPipeline)
	}
	f := newFields(KeyTrainingPipeline)
	name := f.seg("pipeline_name", sec.PipelineName)
	artifactDir := f.seg("artifact_dir", sec.ArtifactDir)
	if len(f.errs) > 0 {
		return TrainingPipelineConfig{}, f.errs
	}
	return TrainingPipelineConfig{ArtifactDir: filepath.Join(r.rootDir, name, artifactDir)}, nil
}

// runStageDir is <artifact root>/<stage>/<run timestamp>.
func (r *Resolver) runStageDir(stage string) string {
	return filepath.Join(r.pipeline.ArtifactDir, stage, string(r.ts))
}

func (r *Resolver) dataIngestion() (DataIngestionConfig, []error) {
	sec := r.doc.DataIngestion
	if sec == nil {
		return DataIngestionConfig{}, missingSection(KeyDataIngestion)
	}
	f := newFields(KeyDataIngestion)
	bucket := f.str("bucket_name", sec.BucketName)
	object := f.str("object_name", sec.ObjectName)
	localFile := f.seg("local_file_name", sec.LocalFileName)
	rawDir := f.seg("raw_data_dir", sec.RawDataDir)
	train, test := f.split(ingestedDirName, sec.IngestedDir)
	if len(f.errs) > 0 {
		return DataIngestionConfig{}, f.errs
	}

	stageDir := r.runStageDir(DataIngestionDirName)
	ingested := filepath.Join(stageDir, ingestedDirName)
	return DataIngestionConfig{
		StageDir:         stageDir,
		BucketName:       bucket,
		ObjectName:       object,
		LocalFileName:    localFile,
		RawDataDir:       filepath.Join(stageDir, rawDir),
		IngestedTrainDir: filepath.Join(ingested, train),
		IngestedTestDir:  filepath.Join(ingested, test),
	}, nil
}

func (r *Resolver) dataValidation() (DataValidationConfig, []error) {
	sec := r.doc.DataValidation
	if sec == nil {
		return DataValidationConfig{}, missingSection(KeyDataValidation)
	}
	f := newFields(KeyDataValidation)
	schemaDir := f.seg("schema_dir", sec.SchemaDir)
	schemaFile := f.seg("schema_file_name", sec.SchemaFileName)
	reportFile := f.seg("report_file_name", sec.ReportFileName)
	reportPage := f.seg("report_page_file_name", sec.ReportPageFileName)
	if len(f.errs) > 0 {
		return DataValidationConfig{}, f.errs
	}

	stageDir := r.runStageDir(DataValidationDirName)
	return DataValidationConfig{
		StageDir:           stageDir,
		SchemaFilePath:     filepath.Join(r.rootDir, schemaDir, schemaFile),
		ReportFilePath:     filepath.Join(stageDir, reportFile),
		ReportPageFilePath: filepath.Join(stageDir, reportPage),
	}, nil
}

func (r *Resolver) dataTransformation() (DataTransformationConfig, []error) {
	sec := r.doc.DataTransformation
	if sec == nil {
		return DataTransformationConfig{}, missingSection(KeyDataTransformation)
	}
	f := newFields(KeyDataTransformation)
	preprocessingDir := f.seg("preprocessing_dir", sec.PreprocessingDir)
	objectFile := f.seg("preprocessed_object_file_name", sec.PreprocessedObjectFileName)
	train, test := f.split(transformedDirName, sec.TransformedDir)
	if len(f.errs) > 0 {
		return DataTransformationConfig{}, f.errs
	}

	stageDir := r.runStageDir(DataTransformationDirName)
	transformed := filepath.Join(stageDir, transformedDirName)
	return DataTransformationConfig{
		StageDir:                   stageDir,
		PreprocessedObjectFilePath: filepath.Join(stageDir, preprocessingDir, objectFile),
		TransformedTrainDir:        filepath.Join(transformed, train),
		TransformedTestDir:         filepath.Join(transformed, test),
	}, nil
}

func (r *Resolver) modelTrainer() (ModelTrainerConfig, []error) {
	sec := r.doc.ModelTrainer
	if sec == nil {
		return ModelTrainerConfig{}, missingSection(KeyModelTrainer)
	}
	f := newFields(KeyModelTrainer)
	modelDir := f.seg("trained_model_dir", sec.TrainedModelDir)
	modelFile := f.seg("model_file_name", sec.ModelFileName)
	baseAccuracy := f.num("base_accuracy", sec.BaseAccuracy)
	modelConfigDir := f.seg("model_config_dir", sec.ModelConfigDir)
	modelConfigFile := f.seg("model_config_file_name", sec.ModelConfigFileName)
	if len(f.errs) > 0 {
		return ModelTrainerConfig{}, f.errs
	}

	stageDir := r.runStageDir(ModelTrainerDirName)
	return ModelTrainerConfig{
		StageDir:             stageDir,
		TrainedModelFilePath: filepath.Join(stageDir, modelDir, modelFile),
		BaseAccuracy:         baseAccuracy,
		ModelConfigFilePath:  filepath.Join(r.rootDir, modelConfigDir, modelConfigFile),
	}, nil
}

func (r *Resolver) modelEvaluation() (ModelEvaluationConfig, []error) {
	sec := r.doc.ModelEvaluation
	if sec == nil {
		return ModelEvaluationConfig{}, missingSection(KeyModelEvaluation)
	}
	f := newFields(KeyModelEvaluation)
	file := f.seg("model_evaluation_file_name", sec.ModelEvaluationFileName)
	if len(f.errs) > 0 {
		return ModelEvaluationConfig{}, f.errs
	}

	stageDir := filepath.Join(r.pipeline.ArtifactDir, ModelEvaluationDirName)
	return ModelEvaluationConfig{
		StageDir:                stageDir,
		ModelEvaluationFilePath: filepath.Join(stageDir, file),
		RunTimestamp:            r.ts,
	}, nil
}

func (r *Resolver) modelPusher(at time.Time) (ModelPusherConfig, []error) {
	sec := r.doc.ModelPusher
	if sec == nil {
		return ModelPusherConfig{}, missingSection(KeyModelPusher)
	}
	f := newFields(KeyModelPusher)
	exportDir := f.seg("model_export_dir", sec.ModelExportDir)
	if len(f.errs) > 0 {
		return ModelPusherConfig{}, f.errs
	}
	return ModelPusherConfig{ExportDirPath: filepath.Join(r.rootDir, exportDir, exportStamp(at))}, nil
}
