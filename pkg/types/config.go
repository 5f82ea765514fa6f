package types

// Backend identifies the generative model service used for page transcription.
type Backend string

const (
	BackendGemini Backend = "gemini"
	BackendVertex Backend = "vertex"
)

// AIConfig holds settings for the vision model call.
type AIConfig struct {
	// Backend selects the model service: gemini (API key) or vertex (project credentials).
	Backend Backend `json:"backend" yaml:"backend"`

	// Model is the model identifier (e.g. "gemini-2.5-flash").
	Model string `json:"model" yaml:"model"`

	// APIKey is the Gemini API key. Unused by the vertex backend.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// Project and Location address the Vertex AI endpoint.
	Project  string `json:"project,omitempty" yaml:"project,omitempty"`
	Location string `json:"location,omitempty" yaml:"location,omitempty"`

	// StagingBucket receives images too large to send inline to Vertex AI.
	StagingBucket string `json:"staging_bucket,omitempty" yaml:"staging_bucket,omitempty"`

	// MaxRetries bounds the number of rate-limit retries per call (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// ParseConfig holds settings for the parse stage.
type ParseConfig struct {
	AIConfig `yaml:",inline"`

	// OutDir is the output root that holds images/, tiles/, crops/, markdown/ and config.json.
	OutDir string `json:"out_dir" yaml:"out_dir"`

	// DPI is the rasterization resolution (default 200).
	DPI int `json:"dpi" yaml:"dpi"`

	// TilePages is the number of pages stacked into one model call (default 1).
	TilePages int `json:"tile_pages" yaml:"tile_pages"`

	// PromptPath is an optional prompt template file. Empty selects the built-in template.
	PromptPath string `json:"prompt,omitempty" yaml:"prompt,omitempty"`

	// Force reprocesses every page and rebuilds rasters and tiles.
	Force bool `json:"force" yaml:"force"`

	// PopplerImage is the container image used when pdftoppm is not installed locally.
	PopplerImage string `json:"poppler_image,omitempty" yaml:"poppler_image,omitempty"`
}

// SplitConfig holds settings for the split stage.
type SplitConfig struct {
	// TOCLevel is the outline depth to split on (default 1).
	TOCLevel int `json:"toc_level" yaml:"toc_level"`

	// OutDir is the output root; section PDFs land in OutDir/sections.
	OutDir string `json:"out_dir" yaml:"out_dir"`

	// DryRun reports the planned sections without writing any files.
	DryRun bool `json:"dry_run" yaml:"dry_run"`
}

// CatalogConfig holds settings for the page catalog.
type CatalogConfig struct {
	// OutDir is the output root that holds markdown/pages and catalog.db.
	OutDir string `json:"out_dir" yaml:"out_dir"`

	// MaxResults is the default maximum number of search results (default 20).
	MaxResults int `json:"max_results" yaml:"max_results"`
}
