// Package planogram keeps the kiosk's catalog, media and inventory layout in
// sync with the cloud backoffice. Inbound topic notifications and bus
// requests are serialized onto a single worker goroutine; staging and commit
// of a new planogram never interleave.
package planogram

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/vendkit/kioskd/pkg/bus"
	"github.com/vendkit/kioskd/pkg/cloud"
	"github.com/vendkit/kioskd/pkg/config"
	"github.com/vendkit/kioskd/pkg/models"
	"github.com/vendkit/kioskd/pkg/mqtt"
	"github.com/vendkit/kioskd/pkg/store"
)

const queueCapacity = 128

// Synchronizer owns the current planogram layout and the staged one awaiting
// an apply/reject decision. All mutations run on the worker goroutine.
type Synchronizer struct {
	cfg    *config.PlanogramConfig
	bus    *bus.Bus
	cloud  *cloud.Client
	store  store.Store
	logger *slog.Logger

	queue    chan func()
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// layoutMu guards current for cross-goroutine reads (IsPlanogramSet);
	// writes happen only on the worker.
	layoutMu sync.RWMutex
	current  models.PlanogramLayout

	// staged planogram, worker-owned
	staged            models.PlanogramLayout
	stagedProducts    []stagedProduct
	stagedCollections []stagedCollection
	stagedVariants    []stagedVariant

	brandInfo map[string]any

	uiModel        map[string]any
	uiModelChanged bool
}

// New creates the synchronizer. Call Start to load the current layout and
// launch the worker.
func New(cfg *config.PlanogramConfig, b *bus.Bus, cl *cloud.Client, st store.Store, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		cfg:       cfg,
		bus:       b,
		cloud:     cl,
		store:     st,
		logger:    logger.With("component", "planogram"),
		queue:     make(chan func(), queueCapacity),
		stopCh:    make(chan struct{}),
		current:   make(models.PlanogramLayout),
		brandInfo: map[string]any{"lastUpdate": float64(0), "logoId": float64(0)},
	}
}

// Start loads the current layout from inventory, subscribes the bus events
// and launches the worker goroutine.
func (s *Synchronizer) Start(ctx context.Context) error {
	for unitID := 1; unitID <= s.cfg.MaxUnits; unitID++ {
		slots, err := s.store.GetInventoryByUnit(ctx, unitID)
		if err != nil {
			return err
		}
		if len(slots) == 0 {
			continue
		}
		unit := make(models.UnitLayout)
		for _, slot := range slots {
			tray, ok := unit[slot.TrayNumber]
			if !ok {
				tray = make(map[int]models.SlotLayout)
				unit[slot.TrayNumber] = tray
			}
			tray[slot.Location] = models.SlotLayout{
				VariantID: slot.VariantID,
				Width:     slot.Width,
				Depth:     slot.Depth,
			}
		}
		s.current[unitID] = unit
	}

	s.bus.Subscribe(bus.EventNewPlanogramApply, s.busHandler)
	s.bus.Subscribe(bus.EventNewPlanogramReject, s.busHandler)
	s.bus.Subscribe(bus.EventGetPlanogram, s.busHandler)

	s.wg.Add(1)
	go s.run()
	s.logger.Info("Planogram synchronizer started", "units_with_layout", len(s.current))
	return nil
}

// Stop terminates the worker. Queued commands are dropped.
func (s *Synchronizer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
	s.logger.Info("Planogram synchronizer stopped")
}

// IsPlanogramSet reports whether the current layout holds at least one slot.
func (s *Synchronizer) IsPlanogramSet() bool {
	s.layoutMu.RLock()
	defer s.layoutMu.RUnlock()
	for _, unit := range s.current {
		for _, tray := range unit {
			if len(tray) > 0 {
				return true
			}
		}
	}
	return false
}

// BindTopics registers the inbound topic handlers. The handlers decode the
// payload and enqueue the real work onto the worker.
func (s *Synchronizer) BindTopics(sub *mqtt.Subscriber) {
	sub.RegisterHandler(mqtt.TopicProduct, s.onProductTopic)
	sub.RegisterHandler(mqtt.TopicCollection, s.onCollectionTopic)
	sub.RegisterHandler(mqtt.TopicBrand, s.onBrandTopic)
	sub.RegisterHandler(mqtt.TopicPlanogram, s.onPlanogramTopic)
}

func (s *Synchronizer) onProductTopic(payload []byte) {
	var msg mqtt.ProductMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.logger.Error("Malformed product notification", "error", err)
		return
	}
	switch msg.UpdateType {
	case "update":
		s.enqueue(func() { s.handleProductUpdated(msg.ProductID) })
	case "delete":
		s.enqueue(func() { s.handleProductDeleted(msg.ProductID) })
	default:
		s.logger.Warn("Unknown product update type", "update_type", msg.UpdateType)
	}
}

func (s *Synchronizer) onCollectionTopic(payload []byte) {
	var msg mqtt.CollectionMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.logger.Error("Malformed collection notification", "error", err)
		return
	}
	if msg.UpdateType != "update" {
		return
	}
	s.enqueue(func() { s.handleCollectionUpdated(msg.CollectionID) })
}

func (s *Synchronizer) onBrandTopic(payload []byte) {
	var msg mqtt.BrandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.logger.Error("Malformed brand notification", "error", err)
		return
	}
	s.enqueue(func() { s.handleBrandUpdated(msg.LastUpdate) })
}

func (s *Synchronizer) onPlanogramTopic(payload []byte) {
	if len(payload) > 0 && !json.Valid(payload) {
		s.logger.Error("Malformed planogram notification")
		return
	}
	s.enqueue(s.handlePlanogramUpdated)
}

// busHandler runs on the bus dispatcher; everything is forwarded to the
// worker so staging and commit stay serialized.
func (s *Synchronizer) busHandler(ev bus.Event) {
	switch ev.Type {
	case bus.EventNewPlanogramApply:
		s.enqueue(s.handleApply)
	case bus.EventNewPlanogramReject:
		s.enqueue(s.handleReject)
	case bus.EventGetPlanogram:
		s.enqueue(s.handlePlanogramUpdated)
	}
}

// enqueue blocks until the worker accepts the command, so a burst of topic
// notifications cannot lose a sync trigger.
func (s *Synchronizer) enqueue(cmd func()) {
	select {
	case s.queue <- cmd:
	case <-s.stopCh:
	}
}

func (s *Synchronizer) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case cmd := <-s.queue:
			cmd()
		}
	}
}

func (s *Synchronizer) handleReject() {
	s.staged = nil
	s.stagedProducts = nil
	s.stagedCollections = nil
	s.stagedVariants = nil
	s.uiModel = nil
	s.uiModelChanged = false
	s.logger.Info("Staged planogram rejected")
}

func (s *Synchronizer) handleApply() {
	if s.staged == nil {
		s.logger.Warn("Apply requested but no planogram is staged")
		return
	}
	ctx := context.Background()
	s.applyNewData(ctx)
	s.applyNewPlanogram(ctx)
}

// setCurrent swaps the current layout. Runs on the worker; the mutex makes
// the swap visible to IsPlanogramSet callers.
func (s *Synchronizer) setCurrent(layout models.PlanogramLayout) {
	s.layoutMu.Lock()
	s.current = layout
	s.layoutMu.Unlock()
}

// currentLayout returns the worker's view of the current layout.
func (s *Synchronizer) currentLayout() models.PlanogramLayout {
	s.layoutMu.RLock()
	defer s.layoutMu.RUnlock()
	return s.current
}
