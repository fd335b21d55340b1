package cluster

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/vinayprograms/shutdownkit/bus"
	"github.com/vinayprograms/shutdownkit/heartbeat"
	"github.com/vinayprograms/shutdownkit/logging"
	"github.com/vinayprograms/shutdownkit/shutdown"
)

// Config configures a cluster member.
type Config struct {
	// Bus carries membership messages.
	Bus bus.MessageBus

	// ID of this member. Default: random UUID.
	ID string

	// Heartbeat, when set, has its status switched to "leaving" by Leave.
	Heartbeat *heartbeat.Sender

	// Logger. Default: discard.
	Logger *logging.Logger
}

// Coordinator is the part of shutdown.Coordinator a member registers with.
type Coordinator interface {
	AddTask(phase, name string, task shutdown.Task) error
	Run(ctx context.Context, reason shutdown.Reason) error
}

// Member is this process's membership in a cluster.
type Member struct {
	bus       bus.MessageBus
	id        string
	heartbeat *heartbeat.Sender
	logger    *logging.Logger

	mu     sync.Mutex
	joined bool
	closed bool
	subs   []bus.Subscription

	exitOnce sync.Once
	exited   chan struct{}
}

// New creates a member. It does not join until Join is called.
func New(cfg Config) (*Member, error) {
	if cfg.Bus == nil {
		return nil, ErrInvalidConfig
	}
	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &Member{
		bus:       cfg.Bus,
		id:        id,
		heartbeat: cfg.Heartbeat,
		logger:    logger.WithComponent("cluster"),
		exited:    make(chan struct{}),
	}, nil
}

// ID returns the member ID.
func (m *Member) ID() string {
	return m.id
}

// Join asks the leader to admit this member and waits for its reply.
func (m *Member) Join(ctx context.Context) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if _, err := m.bus.Request(ctx, SubjectJoin, newEvent(m.id)); err != nil {
		return requestErr(err)
	}

	m.mu.Lock()
	m.joined = true
	m.mu.Unlock()
	m.logger.Info("joined cluster", map[string]interface{}{"member": m.id})
	return nil
}

// Joined reports whether the member joined and has not exited.
func (m *Member) Joined() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.joined && !m.isExited()
}

// Leave asks the leader to remove this member and waits until it has.
// A member that never joined is considered exited at once.
func (m *Member) Leave(ctx context.Context) error {
	m.mu.Lock()
	joined := m.joined
	m.mu.Unlock()

	if !joined || m.isExited() {
		m.markExited()
		return nil
	}

	if m.heartbeat != nil {
		m.heartbeat.SetStatus(heartbeat.StatusLeaving)
	}
	if _, err := m.bus.Request(ctx, SubjectLeave, newEvent(m.id)); err != nil {
		return requestErr(err)
	}

	m.logger.Info("left cluster", map[string]interface{}{"member": m.id})
	m.markExited()
	return nil
}

// Exited is closed once the member has been removed from the cluster,
// by leaving or by being downed.
func (m *Member) Exited() <-chan struct{} {
	return m.exited
}

func (m *Member) isExited() bool {
	select {
	case <-m.exited:
		return true
	default:
		return false
	}
}

func (m *Member) markExited() {
	m.exitOnce.Do(func() { close(m.exited) })
}

// Register wires the member into coord:
//   - being downed runs shutdown with ReasonClusterDowning
//   - a leave request runs shutdown with ReasonClusterLeaving
//   - cluster-leave leaves the cluster unless the member was downed
//   - cluster-exiting waits until the member is removed
//   - cluster-shutdown stops listening for membership messages
func (m *Member) Register(coord Coordinator) error {
	down, err := m.bus.Subscribe(DownSubject(m.id))
	if err != nil {
		return err
	}
	leave, err := m.bus.Subscribe(LeaveRequestedSubject(m.id))
	if err != nil {
		down.Unsubscribe()
		return err
	}

	m.mu.Lock()
	m.subs = append(m.subs, down, leave)
	m.mu.Unlock()

	go m.watch(coord, down, leave)

	if err := coord.AddTask(shutdown.PhaseClusterLeave, "cluster-leave", m.leaveTask); err != nil {
		return err
	}
	if err := coord.AddTask(shutdown.PhaseClusterExiting, "cluster-exiting", m.exitingTask); err != nil {
		return err
	}
	return coord.AddTask(shutdown.PhaseClusterShutdown, "cluster-membership", func(context.Context) error {
		return m.Close()
	})
}

func (m *Member) watch(coord Coordinator, down, leave bus.Subscription) {
	for {
		select {
		case _, ok := <-down.Messages():
			if !ok {
				return
			}
			m.logger.Warn("member downed", map[string]interface{}{"member": m.id})
			m.markExited()
			go coord.Run(context.Background(), shutdown.ReasonClusterDowning)
		case _, ok := <-leave.Messages():
			if !ok {
				return
			}
			m.logger.Info("leave requested", map[string]interface{}{"member": m.id})
			go coord.Run(context.Background(), shutdown.ReasonClusterLeaving)
		}
	}
}

func (m *Member) leaveTask(ctx context.Context) error {
	if shutdown.ReasonFromContext(ctx) == shutdown.ReasonClusterDowning {
		m.markExited()
		return nil
	}
	return m.Leave(ctx)
}

func (m *Member) exitingTask(ctx context.Context) error {
	select {
	case <-m.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops listening for membership messages.
func (m *Member) Close() error {
	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	m.closed = true
	m.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	return nil
}
