package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is the decoded pipeline configuration. Sections are nil when absent
// and scalar fields are nil when their key is absent, so presence can be checked
// after decoding.
type Document struct {
	TrainingPipeline   *PipelineSection           `yaml:"training_pipeline_config"`
	DataIngestion      *DataIngestionSection      `yaml:"data_ingestion_config"`
	DataValidation     *DataValidationSection     `yaml:"data_validation_config"`
	DataTransformation *DataTransformationSection `yaml:"data_transformation_config"`
	ModelTrainer       *ModelTrainerSection       `yaml:"model_trainer_config"`
	ModelEvaluation    *ModelEvaluationSection    `yaml:"model_evaluation_config"`
	ModelPusher        *ModelPusherSection        `yaml:"model_pusher_config"`
}

type PipelineSection struct {
	PipelineName *string `yaml:"pipeline_name"`
	ArtifactDir  *string `yaml:"artifact_dir"`
}

// SplitDirs names the train and test directories of a split.
type SplitDirs struct {
	TrainDir *string `yaml:"train_dir"`
	TestDir  *string `yaml:"test_dir"`
}

type DataIngestionSection struct {
	BucketName    *string    `yaml:"bucket_name"`
	ObjectName    *string    `yaml:"object_name"`
	LocalFileName *string    `yaml:"local_file_name"`
	RawDataDir    *string    `yaml:"raw_data_dir"`
	IngestedDir   *SplitDirs `yaml:"ingested_dir"`
}

type DataValidationSection struct {
	SchemaDir          *string `yaml:"schema_dir"`
	SchemaFileName     *string `yaml:"schema_file_name"`
	ReportFileName     *string `yaml:"report_file_name"`
	ReportPageFileName *string `yaml:"report_page_file_name"`
}

type DataTransformationSection struct {
	PreprocessingDir           *string    `yaml:"preprocessing_dir"`
	PreprocessedObjectFileName *string    `yaml:"preprocessed_object_file_name"`
	TransformedDir             *SplitDirs `yaml:"transformed_dir"`
}

type ModelTrainerSection struct {
	TrainedModelDir     *string  `yaml:"trained_model_dir"`
	ModelFileName       *string  `yaml:"model_file_name"`
	BaseAccuracy        *float64 `yaml:"base_accuracy"`
	ModelConfigDir      *string  `yaml:"model_config_dir"`
	ModelConfigFileName *string  `yaml:"model_config_file_name"`
}

type ModelEvaluationSection struct {
	ModelEvaluationFileName *string `yaml:"model_evaluation_file_name"`
}

type ModelPusherSection struct {
	ModelExportDir *string `yaml:"model_export_dir"`
}

// Load reads and decodes the document at path. Every failure is a *LoadError.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return doc, nil
}

// Parse decodes a YAML document. Decode failures wrap ErrMalformed.
func Parse(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: document is empty", ErrMalformed)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return &doc, nil
}

// fields collects key errors for one section while reading its values.
type fields struct {
	prefix string
	errs   []error
}

func newFields(prefix string) *fields {
	return &fields{prefix: prefix}
}

func (f *fields) key(name string) string {
	return f.prefix + "." + name
}

func (f *fields) str(name string, v *string) string {
	if v == nil {
		f.errs = append(f.errs, &KeyError{Key: f.key(name), Reason: reasonMissing})
		return ""
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		f.errs = append(f.errs, &KeyError{Key: f.key(name), Reason: reasonEmpty})
	}
	return s
}

// seg reads a value that is joined onto a directory as a path segment. It must
// stay inside that directory.
func (f *fields) seg(name string, v *string) string {
	s := f.str(name, v)
	if s == "" {
		return ""
	}
	clean := filepath.Clean(filepath.FromSlash(s))
	if filepath.IsAbs(clean) || strings.HasPrefix(s, "/") || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		f.errs = append(f.errs, &KeyError{Key: f.key(name), Reason: reasonEscapes})
		return ""
	}
	return clean
}

func (f *fields) num(name string, v *float64) float64 {
	if v == nil {
		f.errs = append(f.errs, &KeyError{Key: f.key(name), Reason: reasonMissing})
		return 0
	}
	return *v
}

func (f *fields) split(name string, v *SplitDirs) (train, test string) {
	if v == nil {
		f.errs = append(f.errs, &KeyError{Key: f.key(name), Reason: reasonMissing})
		return "", ""
	}
	nested := newFields(f.key(name))
	train = nested.seg("train_dir", v.TrainDir)
	test = nested.seg("test_dir", v.TestDir)
	f.errs = append(f.errs, nested.errs...)
	return train, test
}

func missingSection(key string) []error {
	return []error{&KeyError{Key: key, Reason: reasonMissing}}
}
