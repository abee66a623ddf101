package planogram

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
)

// processUIModel decides whether the staged UI model differs from the one on
// disk and, if so, localizes the banner images: sections whose imageId
// changed get their image downloaded and the URL rewritten to the local
// prefix. The document itself is opaque pass-through.
func (s *Synchronizer) processUIModel(ctx context.Context) {
	s.uiModelChanged = false
	if s.uiModel == nil {
		return
	}

	path := filepath.Join(s.cfg.DataDir, s.cfg.UIModelFilename)
	var existing map[string]any
	if raw, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(raw, &existing); err != nil {
			s.logger.Warn("Stored ui-model is unreadable, treating as changed", "error", err)
			existing = nil
		}
	}
	if existing != nil && s.uiModel["last_updated"] == existing["last_updated"] {
		return
	}
	s.logger.Debug("UI model has updated, processing")

	profiles, _ := s.uiModel["profiles"].(map[string]any)
	for profileID, rawProfile := range profiles {
		profile, ok := rawProfile.(map[string]any)
		if !ok {
			continue
		}
		sections, _ := profile["sections"].([]any)
		for _, rawSection := range sections {
			section, ok := rawSection.(map[string]any)
			if !ok {
				continue
			}
			sectionType := strField(section, "type")
			if sectionType != "left-banner" && sectionType != "right-banner" {
				continue
			}
			description, ok := section["description"].(map[string]any)
			if !ok {
				continue
			}
			if numField(description, "imageId") == existingBannerImageID(existing, profileID, sectionType) {
				continue
			}
			s.logger.Debug("Banner section has a new image, downloading",
				"profile", profileID, "section", sectionType)
			name, err := s.cloud.DownloadImage(ctx, strField(description, "imageUrl"), s.cfg.ImageDir)
			if err != nil {
				s.logCloudError("download banner image", err)
				continue
			}
			description["imageUrl"] = s.cfg.LocalImageURLPrefix + name
		}
	}
	s.uiModelChanged = true
}

// existingBannerImageID looks up the image id of the matching banner section
// in the stored document, or 0 when absent.
func existingBannerImageID(existing map[string]any, profileID, sectionType string) int64 {
	if existing == nil {
		return 0
	}
	profiles, _ := existing["profiles"].(map[string]any)
	profile, ok := profiles[profileID].(map[string]any)
	if !ok {
		return 0
	}
	sections, _ := profile["sections"].([]any)
	for _, rawSection := range sections {
		section, ok := rawSection.(map[string]any)
		if !ok {
			continue
		}
		if strField(section, "type") != sectionType {
			continue
		}
		if description, ok := section["description"].(map[string]any); ok {
			return numField(description, "imageId")
		}
	}
	return 0
}
