package heartbeat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/shutdownkit/bus"
	"github.com/vinayprograms/shutdownkit/logging"
)

// SenderConfig configures a heartbeat sender.
type SenderConfig struct {
	// Bus is the message bus for publishing heartbeats.
	Bus bus.MessageBus

	// MemberID is the unique identifier for this member.
	MemberID string

	// Interval between heartbeats.
	// Default: 1 second
	Interval time.Duration

	// Logger for publish failures. Default: discard.
	Logger *logging.Logger
}

// Validate checks the configuration.
func (c *SenderConfig) Validate() error {
	if c.Bus == nil {
		return ErrInvalidConfig
	}
	if c.MemberID == "" {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultSenderConfig returns configuration with sensible defaults.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		Interval: time.Second,
	}
}

// Sender publishes periodic heartbeats on heartbeat.<member-id>.
//
// A Sender ends exactly once, through Stop or its Start context. Done is
// closed after the final heartbeat (status "exiting") has been published,
// so a shutdown termination task can stop it and wait.
type Sender struct {
	bus      bus.MessageBus
	memberID string
	interval time.Duration
	logger   *logging.Logger

	mu       sync.RWMutex
	status   string
	metadata map[string]string

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSender creates a new heartbeat sender.
func NewSender(cfg SenderConfig) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultSenderConfig().Interval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &Sender{
		bus:      cfg.Bus,
		memberID: cfg.MemberID,
		interval: interval,
		logger:   logger.WithComponent("heartbeat"),
		status:   StatusUp,
		metadata: make(map[string]string),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins sending heartbeats at the configured interval.
func (s *Sender) Start(ctx context.Context) error {
	if s.started.Swap(true) {
		return ErrAlreadyStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}

	go s.run(ctx)
	return nil
}

func (s *Sender) run(ctx context.Context) {
	defer close(s.doneCh)

	s.send()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.final()
			return
		case <-s.stopCh:
			s.final()
			return
		case <-ticker.C:
			s.send()
		}
	}
}

func (s *Sender) final() {
	s.SetStatus(StatusExiting)
	s.send()
}

func (s *Sender) send() {
	hb := s.build()
	data, err := hb.Marshal()
	if err == nil {
		err = s.bus.Publish(Subject(hb.MemberID), data)
	}
	if err != nil {
		s.logger.Debug("heartbeat publish failed", map[string]interface{}{
			"member": s.memberID,
			"error":  err.Error(),
		})
	}
}

func (s *Sender) build() *Heartbeat {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hb := &Heartbeat{
		MemberID:  s.memberID,
		Timestamp: time.Now(),
		Status:    s.status,
	}
	if len(s.metadata) > 0 {
		hb.Metadata = make(map[string]string, len(s.metadata))
		for k, v := range s.metadata {
			hb.Metadata[k] = v
		}
	}
	return hb
}

// SetStatus updates the status included in heartbeats.
func (s *Sender) SetStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// Status returns the current status.
func (s *Sender) Status() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetMetadata updates a metadata field.
func (s *Sender) SetMetadata(key, value string) {
	s.mu.Lock()
	s.metadata[key] = value
	s.mu.Unlock()
}

// Stop asks the sender to publish its final heartbeat and end. It does not
// wait; use Done. Stopping a sender that never started closes Done at once.
func (s *Sender) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if !s.started.Swap(true) {
			close(s.doneCh)
		}
	})
}

// Done is closed once the sender has ended.
func (s *Sender) Done() <-chan struct{} {
	return s.doneCh
}

// MemberID returns the sender's member ID.
func (s *Sender) MemberID() string {
	return s.memberID
}
