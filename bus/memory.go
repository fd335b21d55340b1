package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// drainPoll is how often Drain checks for empty subscription buffers.
const drainPoll = 5 * time.Millisecond

// MemoryBus implements MessageBus inside one process.
// Useful for testing and single-process scenarios.
type MemoryBus struct {
	config Config

	mu       sync.RWMutex
	subs     map[string][]*memorySub
	draining bool
	closed   bool
	done     chan struct{}
}

type memorySub struct {
	subject string
	ch      chan *Message
	bus     *MemoryBus
	once    sync.Once
}

// NewMemoryBus creates a new in-memory message bus.
func NewMemoryBus(cfg Config) *MemoryBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}

	return &MemoryBus{
		config: cfg,
		subs:   make(map[string][]*memorySub),
		done:   make(chan struct{}),
	}
}

// Publish sends a message to all subscribers. A subscriber whose buffer is
// full misses the message.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	return b.publish(&Message{Subject: subject, Data: data})
}

func (b *MemoryBus) publish(msg *Message) error {
	if err := ValidateSubject(msg.Subject); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	for _, sub := range b.subs[msg.Subject] {
		select {
		case sub.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe creates a subscription to a subject.
func (b *MemoryBus) Subscribe(subject string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.draining {
		return nil, ErrClosed
	}

	sub := &memorySub{
		subject: subject,
		ch:      make(chan *Message, b.config.BufferSize),
		bus:     b,
	}
	b.subs[subject] = append(b.subs[subject], sub)
	return sub, nil
}

// Request publishes data with a fresh reply subject and waits for the reply.
func (b *MemoryBus) Request(ctx context.Context, subject string, data []byte) (*Message, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}

	inbox := "_INBOX." + uuid.NewString()
	sub, err := b.Subscribe(inbox)
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	b.mu.RLock()
	responders := len(b.subs[subject])
	b.mu.RUnlock()
	if responders == 0 {
		return nil, ErrNoResponders
	}

	if err := b.publish(&Message{Subject: subject, Data: data, Reply: inbox}); err != nil {
		return nil, err
	}

	select {
	case reply, ok := <-sub.Messages():
		if !ok {
			return nil, ErrClosed
		}
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Drain refuses new subscriptions and closes the bus once every
// subscription buffer is empty.
func (b *MemoryBus) Drain() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.draining = true
	b.mu.Unlock()

	go func() {
		ticker := time.NewTicker(drainPoll)
		defer ticker.Stop()
		for !b.buffersEmpty() {
			select {
			case <-b.done:
				return
			case <-ticker.C:
			}
		}
		b.Close()
	}()
	return nil
}

func (b *MemoryBus) buffersEmpty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, subs := range b.subs {
		for _, sub := range subs {
			if len(sub.ch) > 0 {
				return false
			}
		}
	}
	return true
}

// Close shuts down the bus and ends every subscription.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.close()
		}
	}
	b.subs = nil
	close(b.done)
	return nil
}

// Done is closed once the bus is closed.
func (b *MemoryBus) Done() <-chan struct{} {
	return b.done
}

func (s *memorySub) close() {
	s.once.Do(func() { close(s.ch) })
}

// Messages returns the message channel.
func (s *memorySub) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe cancels the subscription.
func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	subs := s.bus.subs[s.subject]
	for i, sub := range subs {
		if sub == s {
			s.bus.subs[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	s.close()
	return nil
}
