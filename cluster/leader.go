package cluster

import (
	"sort"
	"sync"
	"time"

	"github.com/vinayprograms/shutdownkit/bus"
	"github.com/vinayprograms/shutdownkit/heartbeat"
	"github.com/vinayprograms/shutdownkit/logging"
)

// LeaderConfig configures a cluster leader.
type LeaderConfig struct {
	// Bus carries membership messages.
	Bus bus.MessageBus

	// Monitor, when set, watches every member and downs the silent ones.
	Monitor *heartbeat.Monitor

	// Logger. Default: discard.
	Logger *logging.Logger
}

// Leader admits and removes members. It answers join and leave requests,
// downs members its heartbeat monitor reports dead and can ask a member
// to leave.
type Leader struct {
	bus     bus.MessageBus
	monitor *heartbeat.Monitor
	logger  *logging.Logger

	mu      sync.RWMutex
	members map[string]time.Time
	subs    []bus.Subscription
	started bool
}

// NewLeader creates a leader. Call Start to begin serving requests.
func NewLeader(cfg LeaderConfig) (*Leader, error) {
	if cfg.Bus == nil {
		return nil, ErrInvalidConfig
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &Leader{
		bus:     cfg.Bus,
		monitor: cfg.Monitor,
		logger:  logger.WithComponent("cluster-leader"),
		members: make(map[string]time.Time),
	}, nil
}

// Start subscribes to join and leave requests.
func (l *Leader) Start() error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return nil
	}
	l.started = true
	l.mu.Unlock()

	join, err := l.bus.Subscribe(SubjectJoin)
	if err != nil {
		return err
	}
	leave, err := l.bus.Subscribe(SubjectLeave)
	if err != nil {
		join.Unsubscribe()
		return err
	}

	l.mu.Lock()
	l.subs = append(l.subs, join, leave)
	l.mu.Unlock()

	if l.monitor != nil {
		l.monitor.OnDead(func(id string) {
			l.Down(id)
		})
	}

	go l.serve(join, l.admit)
	go l.serve(leave, l.remove)
	return nil
}

func (l *Leader) serve(sub bus.Subscription, handle func(id string)) {
	for msg := range sub.Messages() {
		e, err := parseEvent(msg.Data)
		if err != nil {
			l.logger.Debug("invalid membership message", map[string]interface{}{
				"subject": msg.Subject,
				"error":   err.Error(),
			})
			continue
		}
		handle(e.MemberID)
		if msg.Reply != "" {
			bus.Respond(l.bus, msg, newEvent(e.MemberID))
		}
	}
}

func (l *Leader) admit(id string) {
	l.mu.Lock()
	l.members[id] = time.Now()
	l.mu.Unlock()

	if l.monitor != nil {
		if err := l.monitor.Watch(id); err != nil {
			l.logger.Warn("cannot watch member", map[string]interface{}{
				"member": id,
				"error":  err.Error(),
			})
		}
	}
	l.logger.Info("member joined", map[string]interface{}{"member": id})
}

func (l *Leader) remove(id string) {
	if !l.forget(id) {
		return
	}
	l.logger.Info("member left", map[string]interface{}{"member": id})
}

func (l *Leader) forget(id string) bool {
	l.mu.Lock()
	_, ok := l.members[id]
	delete(l.members, id)
	l.mu.Unlock()

	if l.monitor != nil {
		l.monitor.Unwatch(id)
	}
	return ok
}

// Down removes a member without its cooperation and tells it so.
func (l *Leader) Down(id string) error {
	if !l.forget(id) {
		return ErrNotMember
	}
	l.logger.Warn("member downed", map[string]interface{}{"member": id})
	return l.bus.Publish(DownSubject(id), newEvent(id))
}

// RequestLeave asks a member to shut down and leave.
func (l *Leader) RequestLeave(id string) error {
	l.mu.RLock()
	_, ok := l.members[id]
	l.mu.RUnlock()
	if !ok {
		return ErrNotMember
	}
	return l.bus.Publish(LeaveRequestedSubject(id), newEvent(id))
}

// IsMember reports whether id is currently a member.
func (l *Leader) IsMember(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.members[id]
	return ok
}

// Members returns the sorted IDs of current members.
func (l *Leader) Members() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.members))
	for id := range l.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stop unsubscribes from membership requests.
func (l *Leader) Stop() {
	l.mu.Lock()
	subs := l.subs
	l.subs = nil
	l.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}
