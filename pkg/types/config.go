// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"runtime"
	"time"
)

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "paperstruct/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// ExtractionConfig holds settings for page-text extraction.
type ExtractionConfig struct {
	// MaxControlRatio, MinLetterRatio and MinPrintableRatio are the garbled
	// text thresholds. Empirically tuned; recalibrate against a labeled corpus.
	MaxControlRatio   float64 `json:"max_control_ratio" yaml:"max_control_ratio" mapstructure:"max_control_ratio"`
	MinLetterRatio    float64 `json:"min_letter_ratio" yaml:"min_letter_ratio" mapstructure:"min_letter_ratio"`
	MinPrintableRatio float64 `json:"min_printable_ratio" yaml:"min_printable_ratio" mapstructure:"min_printable_ratio"`

	// EnableExternalTool enables the pdftotext layer.
	EnableExternalTool bool `json:"enable_external_tool" yaml:"enable_external_tool" mapstructure:"enable_external_tool"`

	// EnableOCR enables the render-and-OCR layer.
	EnableOCR bool `json:"enable_ocr" yaml:"enable_ocr" mapstructure:"enable_ocr"`

	// OCRDPI is the render resolution for OCR (default 300).
	OCRDPI int `json:"ocr_dpi" yaml:"ocr_dpi" mapstructure:"ocr_dpi"`

	// OCRLanguage is the tesseract language code (default "eng").
	OCRLanguage string `json:"ocr_language" yaml:"ocr_language" mapstructure:"ocr_language"`

	// SamplePages is the number of pages inspected before full extraction (default 5).
	SamplePages int `json:"sample_pages" yaml:"sample_pages" mapstructure:"sample_pages"`

	// GarbledSampleThreshold is the share of garbled sample pages above
	// which an alternate copy is fetched (default 0.10).
	GarbledSampleThreshold float64 `json:"garbled_sample_threshold" yaml:"garbled_sample_threshold" mapstructure:"garbled_sample_threshold"`

	// Workers bounds concurrent page extraction (default runtime.NumCPU()).
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"`
}

// EngineConfig holds settings for the structure engine (GROBID).
type EngineConfig struct {
	// URL is the engine base URL (default "http://localhost:8070").
	URL string `json:"url" yaml:"url" mapstructure:"url"`

	// Image is the container image started when the engine is down.
	Image string `json:"image" yaml:"image" mapstructure:"image"`

	// ContainerName names the container this client starts.
	ContainerName string `json:"container_name" yaml:"container_name" mapstructure:"container_name"`

	// AutoStart lets the client pull and start the container on demand.
	AutoStart bool `json:"auto_start" yaml:"auto_start" mapstructure:"auto_start"`

	// RequestTimeout bounds one fulltext submission (default 180s).
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout" mapstructure:"request_timeout"`

	// HealthInterval and HealthTimeout drive startup polling (2s, 90s).
	HealthInterval time.Duration `json:"health_interval" yaml:"health_interval" mapstructure:"health_interval"`
	HealthTimeout  time.Duration `json:"health_timeout" yaml:"health_timeout" mapstructure:"health_timeout"`
}

// AIConfig holds shared settings for stages that call a Generative AI API.
type AIConfig struct {
	// Model is the AI model identifier (e.g. "gpt-4.1-mini").
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// APIKey is the authentication key for the AI API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// BaseURL overrides the API endpoint for compatible servers.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" mapstructure:"base_url"`

	// Timeout bounds a single chat call (default 120s).
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// RequestsPerMinute caps the call rate (default 30).
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// FallbackConfig holds settings for the language-model reference parser.
type FallbackConfig struct {
	AIConfig `yaml:",inline" mapstructure:",squash"`

	// ChunkThreshold is the entry count above which input is chunked (default 15).
	ChunkThreshold int `json:"chunk_threshold" yaml:"chunk_threshold" mapstructure:"chunk_threshold"`

	// CharThreshold is the input length above which input is chunked (default 15000).
	CharThreshold int `json:"char_threshold" yaml:"char_threshold" mapstructure:"char_threshold"`

	// ChunkSize is the number of entries per chunk (default 20).
	ChunkSize int `json:"chunk_size" yaml:"chunk_size" mapstructure:"chunk_size"`

	// MaxRetries is the number of extra attempts after a timeout (default 2).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`

	// RetryBackoff is the linear backoff unit (default 1s).
	RetryBackoff time.Duration `json:"retry_backoff" yaml:"retry_backoff" mapstructure:"retry_backoff"`

	// ConfidenceScale multiplies model-reported confidence (default 0.7).
	ConfidenceScale float64 `json:"confidence_scale" yaml:"confidence_scale" mapstructure:"confidence_scale"`

	// TailPages is the number of final pages sent when no reference
	// section is detected (default 5).
	TailPages int `json:"tail_pages" yaml:"tail_pages" mapstructure:"tail_pages"`
}

// LinkConfig holds citation span and linking settings.
type LinkConfig struct {
	// MaxRangeSpan rejects numeric ranges with end-start >= this (default 50).
	MaxRangeSpan int `json:"max_range_span" yaml:"max_range_span" mapstructure:"max_range_span"`

	// MaxSpanLength drops annotation text longer than this (default 50).
	MaxSpanLength int `json:"max_span_length" yaml:"max_span_length" mapstructure:"max_span_length"`

	// StructureMatchThreshold is the minimum similarity between a span and
	// an engine citation (default 0.8).
	StructureMatchThreshold float64 `json:"structure_match_threshold" yaml:"structure_match_threshold" mapstructure:"structure_match_threshold"`

	// DestYTolerance is the distance in points within which a reference top
	// is taken as the annotation target (default 24).
	DestYTolerance float64 `json:"dest_y_tolerance" yaml:"dest_y_tolerance" mapstructure:"dest_y_tolerance"`
}

// AcquisitionConfig holds settings for alternate-source downloads.
type AcquisitionConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// Enabled turns alternate-source downloads on.
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`

	// DownloadDir receives alternate copies (default "papers/alternate").
	DownloadDir string `json:"download_dir" yaml:"download_dir" mapstructure:"download_dir"`

	// Mailto is sent to OpenAlex for the polite pool.
	Mailto string `json:"mailto,omitempty" yaml:"mailto,omitempty" mapstructure:"mailto"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	// Path is the SQLite database file (default "paperstruct.db").
	Path string `json:"path" yaml:"path" mapstructure:"path"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error (default info).
	Level string `json:"level" yaml:"level" mapstructure:"level"`

	// Format is json or console (default console).
	Format string `json:"format" yaml:"format" mapstructure:"format"`
}

// PipelineConfig groups all stage configurations for the pipeline.
type PipelineConfig struct {
	Extraction  ExtractionConfig  `json:"extraction" yaml:"extraction" mapstructure:"extraction"`
	Engine      EngineConfig      `json:"engine" yaml:"engine" mapstructure:"engine"`
	Fallback    FallbackConfig    `json:"fallback" yaml:"fallback" mapstructure:"fallback"`
	Link        LinkConfig        `json:"link" yaml:"link" mapstructure:"link"`
	Acquisition AcquisitionConfig `json:"acquisition" yaml:"acquisition" mapstructure:"acquisition"`
	Store       StoreConfig       `json:"store" yaml:"store" mapstructure:"store"`
	Log         LogConfig         `json:"log" yaml:"log" mapstructure:"log"`
}

// DefaultExtractionConfig returns the tuned page-extraction defaults.
func DefaultExtractionConfig() ExtractionConfig {
	return ExtractionConfig{
		MaxControlRatio:        0.005,
		MinLetterRatio:         0.40,
		MinPrintableRatio:      0.65,
		EnableExternalTool:     true,
		EnableOCR:              true,
		OCRDPI:                 300,
		OCRLanguage:            "eng",
		SamplePages:            5,
		GarbledSampleThreshold: 0.10,
		Workers:                runtime.NumCPU(),
	}
}

// DefaultEngineConfig returns the GROBID defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		URL:            "http://localhost:8070",
		Image:          "lfoppiano/grobid:0.8.1",
		ContainerName:  "paperstruct-grobid",
		AutoStart:      true,
		RequestTimeout: 180 * time.Second,
		HealthInterval: 2 * time.Second,
		HealthTimeout:  90 * time.Second,
	}
}

// DefaultFallbackConfig returns the language-model parser defaults.
func DefaultFallbackConfig() FallbackConfig {
	return FallbackConfig{
		AIConfig: AIConfig{
			Model:             "gpt-4.1-mini",
			Timeout:           120 * time.Second,
			RequestsPerMinute: 30,
		},
		ChunkThreshold:  15,
		CharThreshold:   15000,
		ChunkSize:       20,
		MaxRetries:      2,
		RetryBackoff:    time.Second,
		ConfidenceScale: 0.7,
		TailPages:       5,
	}
}

// DefaultLinkConfig returns the linking defaults.
func DefaultLinkConfig() LinkConfig {
	return LinkConfig{
		MaxRangeSpan:            50,
		MaxSpanLength:           50,
		StructureMatchThreshold: 0.8,
		DestYTolerance:          24,
	}
}

// DefaultPipelineConfig returns a configuration with every default filled in.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Extraction: DefaultExtractionConfig(),
		Engine:     DefaultEngineConfig(),
		Fallback:   DefaultFallbackConfig(),
		Link:       DefaultLinkConfig(),
		Acquisition: AcquisitionConfig{
			HTTPConfig: HTTPConfig{
				Timeout:   60 * time.Second,
				UserAgent: "paperstruct/0.1",
			},
			Enabled:     true,
			DownloadDir: "papers/alternate",
		},
		Store: StoreConfig{Path: "paperstruct.db"},
		Log:   LogConfig{Level: "info", Format: "console"},
	}
}
