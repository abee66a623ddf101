package planogram

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/vendkit/kioskd/pkg/bus"
	"github.com/vendkit/kioskd/pkg/cloud"
	"github.com/vendkit/kioskd/pkg/models"
	"github.com/vendkit/kioskd/pkg/store"
)

// handleProductUpdated refreshes a known product and its variants from the
// cloud. Products the kiosk never heard of are ignored; they arrive with the
// next full planogram.
func (s *Synchronizer) handleProductUpdated(productID int64) {
	ctx := context.Background()
	prod, err := s.store.GetProduct(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Error("Failed to load product", "product_id", productID, "error", err)
		return
	}

	params := map[string]string{"productId": strconv.FormatInt(productID, 10), "deviceId": ""}
	data, err := s.cloud.Get(ctx, "product", params)
	if err != nil {
		s.logCloudError("get product data", err)
		return
	}
	var upd productData
	if err := decode(data, &upd); err != nil {
		s.logger.Error("Received product data is malformed", "product_id", productID, "error", err)
		return
	}

	if upd.LastUpdate != prod.LastUpdate {
		refreshed := toProduct(upd)
		if err := s.store.UpdateProduct(ctx, &refreshed); err != nil {
			s.logger.Error("Failed to update product", "product_id", productID, "error", err)
			return
		}
		s.logger.Info("Product was updated", "product_id", productID)
	}

	known := make(map[int64]bool, len(prod.VariantIDs))
	for _, id := range prod.VariantIDs {
		known[id] = true
	}
	for _, vd := range upd.Variants {
		if !known[vd.ID] {
			continue
		}
		variant, err := s.store.GetVariant(ctx, vd.ID)
		if err != nil {
			s.logger.Error("Failed to load variant", "variant_id", vd.ID, "error", err)
			continue
		}
		refreshed := toVariant(prod.ID, vd)
		refreshed.MediaID = variant.MediaID
		if s.mediaChanged(ctx, variant.MediaID, vd.Image) {
			if mediaID, ok := s.downloadMedia(ctx, vd.Image); ok {
				refreshed.MediaID = mediaID
			}
		}
		if err := s.store.UpdateVariant(ctx, &refreshed); err != nil {
			s.logger.Error("Failed to update variant", "variant_id", vd.ID, "error", err)
			continue
		}
		s.logger.Info("Variant was updated", "variant_id", vd.ID)
	}
}

// handleProductDeleted soft-deletes every variant of the product.
func (s *Synchronizer) handleProductDeleted(productID int64) {
	ctx := context.Background()
	if _, err := s.store.GetProduct(ctx, productID); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("Failed to load product", "product_id", productID, "error", err)
		}
		return
	}
	if err := s.store.MarkVariantsDeleted(ctx, productID); err != nil {
		s.logger.Error("Failed to mark variants deleted", "product_id", productID, "error", err)
		return
	}
	s.logger.Info("Variants of product were set to deleted", "product_id", productID)
}

func (s *Synchronizer) handleCollectionUpdated(collectionID int64) {
	ctx := context.Background()
	coll, err := s.store.GetCollection(ctx, collectionID)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Error("Failed to load collection", "collection_id", collectionID, "error", err)
		return
	}

	params := map[string]string{"collectionId": strconv.FormatInt(collectionID, 10), "deviceId": ""}
	data, err := s.cloud.Get(ctx, "collection", params)
	if err != nil {
		s.logCloudError("get collection data", err)
		return
	}
	var upd collectionData
	if err := decode(data, &upd); err != nil {
		s.logger.Error("Received collection data is malformed", "collection_id", collectionID, "error", err)
		return
	}

	if upd.LastUpdate == coll.LastUpdate {
		return
	}
	refreshed := toCollection(upd)
	refreshed.MediaID = coll.MediaID
	if s.mediaChanged(ctx, coll.MediaID, upd.Image) {
		if mediaID, ok := s.downloadMedia(ctx, upd.Image); ok {
			refreshed.MediaID = mediaID
		}
	}
	if err := s.store.UpdateCollection(ctx, &refreshed); err != nil {
		s.logger.Error("Failed to update collection", "collection_id", collectionID, "error", err)
		return
	}
	s.logger.Info("Collection was updated", "collection_id", collectionID)
}

// handleBrandUpdated refreshes the brand-info document. The notification's
// lastUpdate is a cheap pre-check; the fetched document decides.
func (s *Synchronizer) handleBrandUpdated(lastUpdate int64) {
	ctx := context.Background()
	if lastUpdate != 0 && lastUpdate <= numField(s.brandInfo, "lastUpdate") {
		s.logger.Debug("Requested to update brand-info but the latest is already present")
		return
	}

	upd, err := s.cloud.Get(ctx, "brand", nil)
	if err != nil {
		s.logCloudError("get brand-info", err)
		return
	}
	if numField(upd, "lastUpdate") <= numField(s.brandInfo, "lastUpdate") {
		s.logger.Info("Retrieved brand-info but the latest is already present")
		return
	}

	if numField(upd, "logoId") != numField(s.brandInfo, "logoId") {
		name, err := s.cloud.DownloadImage(ctx, strField(upd, "logoUrl"), s.cfg.ImageDir)
		if err != nil {
			s.logCloudError("download brand logo", err)
		} else {
			s.brandInfo = upd
			s.brandInfo["logoUrl"] = s.cfg.LocalImageURLPrefix + name
		}
	} else {
		currentLogoURL := s.brandInfo["logoUrl"]
		s.brandInfo = upd
		s.brandInfo["logoUrl"] = currentLogoURL
	}

	path := filepath.Join(s.cfg.DataDir, s.cfg.BrandInfoFilename)
	if err := writeJSONFile(path, s.brandInfo); err != nil {
		s.logger.Error("Failed to save brand-info", "error", err)
		return
	}
	s.logger.Debug("Brand info saved to file")
	s.bus.Post(bus.Event{Type: bus.EventBrandInfoUpdated})
}

// mediaChanged reports whether the cloud image differs from the stored media
// row by modification stamp or filename.
func (s *Synchronizer) mediaChanged(ctx context.Context, mediaID int64, image imageData) bool {
	if mediaID == 0 {
		return image.URL != ""
	}
	media, err := s.store.GetMedia(ctx, mediaID)
	if err != nil {
		return true
	}
	return media.LastUpdate != image.LastUpdate || media.Filename != filenameFromURL(image.URL)
}

// downloadMedia fetches the image and records a Media row. Failures are
// logged; the caller keeps the previous media reference.
func (s *Synchronizer) downloadMedia(ctx context.Context, image imageData) (int64, bool) {
	name, err := s.cloud.DownloadImage(ctx, image.URL, s.cfg.ImageDir)
	if err != nil {
		s.logCloudError("download image", err)
		return 0, false
	}
	mediaID, err := s.store.AddMedia(ctx, &models.Media{Filename: name, LastUpdate: image.LastUpdate})
	if err != nil {
		s.logger.Error("Failed to record downloaded media", "filename", name, "error", err)
		return 0, false
	}
	return mediaID, true
}

func (s *Synchronizer) logCloudError(op string, err error) {
	cloud.LogError(s.logger, op, err)
}

func filenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return filepath.Base(u.Path)
}

func numField(m map[string]any, key string) int64 {
	if v, ok := m[key].(float64); ok {
		return int64(v)
	}
	return 0
}

func strField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
