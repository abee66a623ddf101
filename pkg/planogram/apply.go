package planogram

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/vendkit/kioskd/pkg/bus"
	"github.com/vendkit/kioskd/pkg/models"
	"github.com/vendkit/kioskd/pkg/store"
)

// applyNewData reconciles the staged catalog into the repository: insert
// what is new, update what is newer, remove what the staged set no longer
// carries, and persist the UI model document if it changed.
func (s *Synchronizer) applyNewData(ctx context.Context) {
	for _, sp := range s.stagedProducts {
		staged := sp.product
		existing, err := s.store.GetProduct(ctx, staged.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if err := s.store.AddProduct(ctx, &staged); err != nil {
				s.logger.Error("Failed to add product", "product_id", staged.ID, "error", err)
			}
		case err != nil:
			s.logger.Error("Failed to load product", "product_id", staged.ID, "error", err)
		case staged.LastUpdate != existing.LastUpdate:
			if err := s.store.UpdateProduct(ctx, &staged); err != nil {
				s.logger.Error("Failed to update product", "product_id", staged.ID, "error", err)
			}
		}
	}

	for _, sc := range s.stagedCollections {
		staged := sc.collection
		existing, err := s.store.GetCollection(ctx, staged.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if mediaID, ok := s.downloadMedia(ctx, sc.image); ok {
				staged.MediaID = mediaID
			}
			if err := s.store.AddCollection(ctx, &staged); err != nil {
				s.logger.Error("Failed to add collection", "collection_id", staged.ID, "error", err)
			}
		case err != nil:
			s.logger.Error("Failed to load collection", "collection_id", staged.ID, "error", err)
		case staged.LastUpdate != existing.LastUpdate:
			staged.MediaID = existing.MediaID
			if s.mediaChanged(ctx, existing.MediaID, sc.image) {
				if mediaID, ok := s.downloadMedia(ctx, sc.image); ok {
					staged.MediaID = mediaID
				}
			}
			if err := s.store.UpdateCollection(ctx, &staged); err != nil {
				s.logger.Error("Failed to update collection", "collection_id", staged.ID, "error", err)
			}
		}
	}

	for _, sv := range s.stagedVariants {
		staged := sv.variant
		existing, err := s.store.GetVariant(ctx, staged.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if mediaID, ok := s.downloadMedia(ctx, sv.image); ok {
				staged.MediaID = mediaID
			}
			if err := s.store.AddVariant(ctx, &staged); err != nil {
				s.logger.Error("Failed to add variant", "variant_id", staged.ID, "error", err)
			}
		case err != nil:
			s.logger.Error("Failed to load variant", "variant_id", staged.ID, "error", err)
		default:
			staged.MediaID = existing.MediaID
			if s.mediaChanged(ctx, existing.MediaID, sv.image) {
				if mediaID, ok := s.downloadMedia(ctx, sv.image); ok {
					staged.MediaID = mediaID
				}
			}
			if err := s.store.UpdateVariant(ctx, &staged); err != nil {
				s.logger.Error("Failed to update variant", "variant_id", staged.ID, "error", err)
			}
		}
	}

	s.removeAbsentEntities(ctx)

	if s.uiModelChanged {
		path := filepath.Join(s.cfg.DataDir, s.cfg.UIModelFilename)
		if err := writeJSONFile(path, s.uiModel); err != nil {
			s.logger.Error("Failed to save ui-model", "error", err)
		} else {
			s.bus.Post(bus.Event{Type: bus.EventUIModelUpdated})
		}
		s.uiModelChanged = false
	}
}

// removeAbsentEntities deletes repository entities that the staged catalog
// no longer mentions.
func (s *Synchronizer) removeAbsentEntities(ctx context.Context) {
	stagedVariantIDs := make(map[int64]bool, len(s.stagedVariants))
	for _, sv := range s.stagedVariants {
		stagedVariantIDs[sv.variant.ID] = true
	}
	variants, err := s.store.ListVariants(ctx)
	if err != nil {
		s.logger.Error("Failed to list variants", "error", err)
	} else {
		for _, v := range variants {
			if !stagedVariantIDs[v.ID] {
				if err := s.store.RemoveVariant(ctx, v.ID); err != nil {
					s.logger.Error("Failed to remove variant", "variant_id", v.ID, "error", err)
				}
			}
		}
	}

	stagedProductIDs := make(map[int64]bool, len(s.stagedProducts))
	for _, sp := range s.stagedProducts {
		stagedProductIDs[sp.product.ID] = true
	}
	products, err := s.store.ListProducts(ctx)
	if err != nil {
		s.logger.Error("Failed to list products", "error", err)
	} else {
		for _, p := range products {
			if !stagedProductIDs[p.ID] {
				if err := s.store.RemoveProduct(ctx, p.ID); err != nil {
					s.logger.Error("Failed to remove product", "product_id", p.ID, "error", err)
				}
			}
		}
	}

	stagedCollectionIDs := make(map[int64]bool, len(s.stagedCollections))
	for _, sc := range s.stagedCollections {
		stagedCollectionIDs[sc.collection.ID] = true
	}
	collections, err := s.store.ListCollections(ctx)
	if err != nil {
		s.logger.Error("Failed to list collections", "error", err)
	} else {
		for _, c := range collections {
			if !stagedCollectionIDs[c.ID] {
				if err := s.store.RemoveCollection(ctx, c.ID); err != nil {
					s.logger.Error("Failed to remove collection", "collection_id", c.ID, "error", err)
				}
			}
		}
	}
}

type slotKey struct {
	tray     int
	location int
}

// applyNewPlanogram diffs the staged layout against the current one and
// rewrites the inventory table. New slots start at quantity 0; a changed slot
// keeps its quantity only when the variant stayed the same. On success the
// staged layout becomes current and planogram_update_done is posted.
func (s *Synchronizer) applyNewPlanogram(ctx context.Context) {
	current := s.currentLayout()
	staged := s.staged

	for unitID := 1; unitID <= s.cfg.MaxUnits; unitID++ {
		newUnit := staged[unitID]
		currUnit := current[unitID]

		quantities := make(map[slotKey]int)
		slots, err := s.store.GetInventoryByUnit(ctx, unitID)
		if err != nil {
			s.logger.Error("Failed to load inventory for unit", "unit", unitID, "error", err)
			s.bus.Post(bus.Event{Type: bus.EventPlanogramUpdateFailed})
			return
		}
		for _, slot := range slots {
			quantities[slotKey{slot.TrayNumber, slot.Location}] = slot.Quantity
		}

		for trayNum, newTray := range newUnit {
			currTray := currUnit[trayNum]
			for loc, newSlot := range newTray {
				currSlot, exists := currTray[loc]
				switch {
				case !exists:
					err = s.store.AddInventorySlot(ctx, &models.InventorySlot{
						UnitID: unitID, TrayNumber: trayNum, Location: loc,
						VariantID: newSlot.VariantID, Width: newSlot.Width, Depth: newSlot.Depth,
					})
				case currSlot != newSlot:
					quantity := 0
					if currSlot.VariantID == newSlot.VariantID {
						quantity = quantities[slotKey{trayNum, loc}]
					}
					err = s.store.UpdateInventorySlot(ctx, &models.InventorySlot{
						UnitID: unitID, TrayNumber: trayNum, Location: loc,
						VariantID: newSlot.VariantID, Width: newSlot.Width, Depth: newSlot.Depth,
						Quantity: quantity,
					})
				}
				if err != nil {
					s.logger.Error("Failed to write inventory slot",
						"unit", unitID, "tray", trayNum, "location", loc, "error", err)
					s.bus.Post(bus.Event{Type: bus.EventPlanogramUpdateFailed})
					return
				}
			}
		}

		for trayNum, currTray := range currUnit {
			newTray := newUnit[trayNum]
			for loc := range currTray {
				if _, kept := newTray[loc]; kept {
					continue
				}
				if err := s.store.RemoveInventorySlot(ctx, unitID, trayNum, loc); err != nil {
					s.logger.Error("Failed to remove inventory slot",
						"unit", unitID, "tray", trayNum, "location", loc, "error", err)
					s.bus.Post(bus.Event{Type: bus.EventPlanogramUpdateFailed})
					return
				}
			}
		}
	}

	s.setCurrent(staged)
	s.staged = nil
	s.stagedProducts = nil
	s.stagedCollections = nil
	s.stagedVariants = nil
	s.logger.Info("New planogram applied")
	s.bus.Post(bus.Event{Type: bus.EventPlanogramUpdateDone})
}
