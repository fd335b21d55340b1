package heartbeat

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/shutdownkit/bus"
	"github.com/vinayprograms/shutdownkit/logging"
)

// MonitorConfig configures a heartbeat monitor.
type MonitorConfig struct {
	// Bus is the message bus heartbeats are received on.
	Bus bus.MessageBus

	// Timeout after which a silent member is considered dead.
	// Default: 5 seconds
	Timeout time.Duration

	// CheckInterval between dead-member sweeps.
	// Default: timeout / 5
	CheckInterval time.Duration

	// Logger. Default: discard.
	Logger *logging.Logger
}

// DefaultMonitorConfig returns configuration with sensible defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Timeout: 5 * time.Second,
	}
}

// DeadCallback is called once when a watched member goes silent.
type DeadCallback func(memberID string)

type watched struct {
	sub      bus.Subscription
	seen     time.Time
	last     *Heartbeat
	reported bool
}

// Monitor tracks heartbeats from a set of watched members.
//
// A member is dead when nothing was received from it for Timeout, or when
// its last heartbeat reported status "exiting". Dead callbacks fire once
// per member until it is heard from again.
type Monitor struct {
	bus           bus.MessageBus
	timeout       time.Duration
	checkInterval time.Duration
	logger        *logging.Logger

	mu      sync.RWMutex
	members map[string]*watched
	onDead  []DeadCallback

	started atomic.Bool
	stopCh  chan struct{}
	stopped sync.Once
}

// NewMonitor creates a new heartbeat monitor.
func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if cfg.Bus == nil {
		return nil, ErrInvalidConfig
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultMonitorConfig().Timeout
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = cfg.Timeout / 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &Monitor{
		bus:           cfg.Bus,
		timeout:       cfg.Timeout,
		checkInterval: cfg.CheckInterval,
		logger:        logger.WithComponent("heartbeat"),
		members:       make(map[string]*watched),
		stopCh:        make(chan struct{}),
	}, nil
}

// Watch starts tracking memberID. The member has a full timeout from now
// to send its first heartbeat.
func (m *Monitor) Watch(memberID string) error {
	m.mu.Lock()
	if _, ok := m.members[memberID]; ok {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	sub, err := m.bus.Subscribe(Subject(memberID))
	if err != nil {
		return err
	}

	m.mu.Lock()
	if _, ok := m.members[memberID]; ok {
		m.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	m.members[memberID] = &watched{sub: sub, seen: time.Now()}
	m.mu.Unlock()

	go m.receive(memberID, sub)
	return nil
}

func (m *Monitor) receive(memberID string, sub bus.Subscription) {
	for msg := range sub.Messages() {
		hb, err := Unmarshal(msg.Data)
		if err != nil {
			m.logger.Debug("invalid heartbeat", map[string]interface{}{
				"member": memberID,
				"error":  err.Error(),
			})
			continue
		}
		m.record(memberID, hb)
	}
}

func (m *Monitor) record(memberID string, hb *Heartbeat) {
	m.mu.Lock()
	w, ok := m.members[memberID]
	if !ok || w.sub == nil {
		m.mu.Unlock()
		return
	}
	w.seen = time.Now()
	w.last = hb
	if hb.Status != StatusExiting {
		w.reported = false
	}
	m.mu.Unlock()

	if hb.Status == StatusExiting {
		m.Check()
	}
}

// Unwatch stops tracking memberID.
func (m *Monitor) Unwatch(memberID string) {
	m.mu.Lock()
	w, ok := m.members[memberID]
	delete(m.members, memberID)
	m.mu.Unlock()

	if ok {
		w.sub.Unsubscribe()
	}
}

// OnDead registers a callback for dead members.
func (m *Monitor) OnDead(cb DeadCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDead = append(m.onDead, cb)
}

// IsAlive reports whether memberID is watched and not dead.
func (m *Monitor) IsAlive(memberID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.members[memberID]
	return ok && !m.dead(w, time.Now())
}

// LastHeartbeat returns the last heartbeat received from memberID, or nil.
func (m *Monitor) LastHeartbeat(memberID string) *Heartbeat {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if w, ok := m.members[memberID]; ok && w.last != nil {
		hb := *w.last
		return &hb
	}
	return nil
}

// Watched returns the IDs of all watched members.
func (m *Monitor) Watched() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.members))
	for id := range m.members {
		ids = append(ids, id)
	}
	return ids
}

func (m *Monitor) dead(w *watched, now time.Time) bool {
	if w.last != nil && w.last.Status == StatusExiting {
		return true
	}
	return now.Sub(w.seen) > m.timeout
}

// Check sweeps watched members once and fires dead callbacks for members
// that went silent since the last sweep.
func (m *Monitor) Check() {
	now := time.Now()

	m.mu.Lock()
	var dead []string
	for id, w := range m.members {
		if !w.reported && m.dead(w, now) {
			w.reported = true
			dead = append(dead, id)
		}
	}
	callbacks := make([]DeadCallback, len(m.onDead))
	copy(callbacks, m.onDead)
	m.mu.Unlock()

	for _, id := range dead {
		m.logger.Warn("member dead", map[string]interface{}{"member": id})
		for _, cb := range callbacks {
			cb(id)
		}
	}
}

// Start begins periodic dead-member sweeps.
func (m *Monitor) Start() error {
	if m.started.Swap(true) {
		return ErrAlreadyStarted
	}

	go func() {
		ticker := time.NewTicker(m.checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.Check()
			}
		}
	}()
	return nil
}

// Stop ends sweeps and unsubscribes from every watched member.
func (m *Monitor) Stop() {
	m.stopped.Do(func() {
		close(m.stopCh)

		m.mu.Lock()
		members := m.members
		m.members = make(map[string]*watched)
		m.mu.Unlock()

		for _, w := range members {
			w.sub.Unsubscribe()
		}
	})
}
