package config

import "fmt"

// PlanogramConfig controls the planogram synchronizer and its on-disk files.
type PlanogramConfig struct {
	// MaxUnits bounds unit numbers accepted from the cloud (1..MaxUnits).
	MaxUnits int `yaml:"max_units"`

	// ImageDir is where downloaded media files are stored.
	ImageDir string `yaml:"image_dir"`

	// DataDir is where brand-info and ui-model documents are written.
	DataDir string `yaml:"data_dir"`

	// LocalImageURLPrefix replaces cloud image URLs in documents served to
	// the UI; the downloaded filename is appended.
	LocalImageURLPrefix string `yaml:"local_image_url_prefix"`

	BrandInfoFilename string `yaml:"brand_info_filename"`
	UIModelFilename   string `yaml:"ui_model_filename"`
}

// DefaultPlanogramConfig returns the built-in planogram defaults.
func DefaultPlanogramConfig() *PlanogramConfig {
	return &PlanogramConfig{
		MaxUnits:            2,
		ImageDir:            "data/images",
		DataDir:             "data",
		LocalImageURLPrefix: "/api/v1/media/",
		BrandInfoFilename:   "brand-info.json",
		UIModelFilename:     "ui-model.json",
	}
}

func (c *PlanogramConfig) Validate() error {
	if c.MaxUnits <= 0 {
		return fmt.Errorf("planogram.max_units must be positive, got %d", c.MaxUnits)
	}
	if c.ImageDir == "" {
		return fmt.Errorf("planogram.image_dir must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("planogram.data_dir must not be empty")
	}
	if c.LocalImageURLPrefix == "" {
		return fmt.Errorf("planogram.local_image_url_prefix must not be empty")
	}
	if c.BrandInfoFilename == "" || c.UIModelFilename == "" {
		return fmt.Errorf("planogram.brand_info_filename and ui_model_filename must not be empty")
	}
	return nil
}
