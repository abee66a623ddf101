// Package machine aggregates hardware, planogram and activity signals into
// a single observable kiosk state.
package machine

import (
	"log/slog"
	"sync"

	"github.com/vendkit/kioskd/pkg/bus"
	"github.com/vendkit/kioskd/pkg/fsm"
)

// Kiosk states.
const (
	StateStartup     = "STARTUP"
	StateAvailable   = "AVAILABLE"
	StateUnavailable = "UNAVAILABLE"
	StateBusy        = "BUSY"
	StateMaintenance = "MAINTENANCE"
	StateError       = "ERROR"
	StateUpdate      = "UPDATE"
)

// PlanogramStatus reports whether a planogram is currently set. Implemented
// by the planogram synchronizer.
type PlanogramStatus interface {
	IsPlanogramSet() bool
}

const queueCapacity = 64

// Machine runs the kiosk state machine on a dedicated worker goroutine.
// Input latches are mutated only on the worker, so every evaluation sees a
// consistent snapshot.
type Machine struct {
	bus       *bus.Bus
	planogram PlanogramStatus
	fsm       *fsm.FSM
	logger    *slog.Logger

	// input latches, worker-owned
	dispenserReady  bool
	doorOpen        bool
	hwError         bool
	dispensing      bool
	planogramSynced bool // a planogram sync has resolved since startup

	queue    chan func()
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	stateMu sync.RWMutex
	state   string
}

// New creates the machine FSM.
func New(b *bus.Bus, planogram PlanogramStatus, logger *slog.Logger) *Machine {
	m := &Machine{
		bus:       b,
		planogram: planogram,
		logger:    logger.With("component", "machine"),
		queue:     make(chan func(), queueCapacity),
		stopCh:    make(chan struct{}),
		state:     StateStartup,
	}
	m.fsm = fsm.New(logger)
	m.initFSM()
	return m
}

func (m *Machine) initFSM() {
	m.fsm.AddState(StateStartup, fsm.Initial(), fsm.OnExit(m.onStartupComplete))
	m.fsm.AddState(StateAvailable, fsm.OnEnter(m.onStateChanged))
	m.fsm.AddState(StateUnavailable, fsm.OnEnter(m.onStateChanged))
	m.fsm.AddState(StateBusy, fsm.OnEnter(m.onStateChanged))
	m.fsm.AddState(StateMaintenance, fsm.OnEnter(m.onStateChanged))
	m.fsm.AddState(StateError, fsm.OnEnter(m.onStateChanged))
	m.fsm.AddState(StateUpdate, fsm.OnEnter(m.onStateChanged))

	transitions := []struct {
		from, to string
		cond     fsm.Predicate
	}{
		{StateStartup, StateAvailable, m.condAvailable},
		{StateStartup, StateUnavailable, m.condUnavailable},
		{StateStartup, StateMaintenance, m.condMaintenance},
		{StateStartup, StateError, m.condError},
		{StateAvailable, StateUnavailable, m.condUnavailable},
		{StateAvailable, StateBusy, m.condBusy},
		{StateAvailable, StateMaintenance, m.condMaintenance},
		{StateAvailable, StateError, m.condError},
		{StateAvailable, StateUpdate, m.condUpdate},
		{StateUnavailable, StateAvailable, m.condAvailable},
		{StateUnavailable, StateMaintenance, m.condMaintenance},
		{StateUnavailable, StateError, m.condError},
		{StateUnavailable, StateUpdate, m.condUpdate},
		{StateBusy, StateAvailable, m.condAvailable},
		{StateBusy, StateError, m.condError},
		{StateMaintenance, StateAvailable, m.condAvailable},
		{StateMaintenance, StateUnavailable, m.condUnavailable},
		{StateMaintenance, StateError, m.condError},
		{StateError, StateAvailable, m.condAvailable},
		{StateError, StateMaintenance, m.condMaintenance},
		{StateError, StateUpdate, m.condUpdate},
	}
	for _, tr := range transitions {
		if err := m.fsm.AddTransition(tr.from, tr.to, tr.cond); err != nil {
			m.logger.Error("Invalid machine transition", "from", tr.from, "to", tr.to, "error", err)
		}
	}
}

// Start launches the worker and subscribes the input events.
func (m *Machine) Start() {
	m.bus.Subscribe(bus.EventDispenserReady, m.busHandler)
	m.bus.Subscribe(bus.EventDoorStateChanged, m.busHandler)
	m.bus.Subscribe(bus.EventPlanogramUpdateDone, m.busHandler)
	m.bus.Subscribe(bus.EventPlanogramIsUpToDate, m.busHandler)

	m.wg.Add(1)
	go m.run()
	m.logger.Info("Machine FSM started")
}

// Stop terminates the worker.
func (m *Machine) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
	m.logger.Info("Machine FSM stopped")
}

// State returns the current machine state.
func (m *Machine) State() string {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// SetHardwareError latches the hardware error input and re-evaluates.
func (m *Machine) SetHardwareError(on bool) {
	m.enqueue(func() { m.hwError = on })
}

// SetDispensing latches the dispensing-in-progress input and re-evaluates.
func (m *Machine) SetDispensing(on bool) {
	m.enqueue(func() { m.dispensing = on })
}

// busHandler runs on the bus dispatcher; it forwards the latch update to the
// worker queue.
func (m *Machine) busHandler(ev bus.Event) {
	switch ev.Type {
	case bus.EventDispenserReady:
		m.enqueue(func() { m.dispenserReady = true })
	case bus.EventDoorStateChanged:
		body, ok := ev.Body.(bus.DoorStateChangedPayload)
		if !ok {
			m.logger.Error("Malformed door_state_changed event body")
			return
		}
		m.enqueue(func() { m.doorOpen = body.Open })
	case bus.EventPlanogramUpdateDone, bus.EventPlanogramIsUpToDate:
		m.enqueue(func() { m.planogramSynced = true })
	}
}

func (m *Machine) enqueue(update func()) {
	select {
	case m.queue <- update:
	default:
		m.logger.Warn("Machine event queue full, dropping update")
	}
}

func (m *Machine) run() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case update := <-m.queue:
			update()
			m.fsm.Step()
			m.stateMu.Lock()
			m.state = m.fsm.Current()
			m.stateMu.Unlock()
		}
	}
}

func (m *Machine) onStateChanged() {
	m.bus.Post(bus.Event{
		Type: bus.EventMachineStateChanged,
		Body: bus.MachineStateChangedPayload{State: m.fsm.Current()},
	})
}

func (m *Machine) onStartupComplete() {
	m.bus.Post(bus.Event{Type: bus.EventStartupComplete})
}

func (m *Machine) condAvailable() bool {
	return m.planogram.IsPlanogramSet() &&
		m.dispenserReady &&
		!m.doorOpen &&
		!m.hwError &&
		!m.dispensing
}

// condUnavailable requires a resolved planogram sync so that a kiosk still
// waiting for its first planogram stays in STARTUP.
func (m *Machine) condUnavailable() bool {
	return m.planogramSynced &&
		!m.planogram.IsPlanogramSet() &&
		m.dispenserReady &&
		!m.doorOpen &&
		!m.hwError &&
		!m.dispensing
}

func (m *Machine) condBusy() bool {
	return m.dispensing
}

func (m *Machine) condMaintenance() bool {
	return m.doorOpen
}

func (m *Machine) condError() bool {
	return m.hwError && !m.doorOpen
}

// condUpdate guards the software update flow, which is not wired yet.
func (m *Machine) condUpdate() bool {
	return false
}
