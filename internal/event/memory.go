package event

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBus is an in-process fanout bus. Publish assigns the ledger
// sequence and delivers to every subscriber channel. Slow subscribers
// with full buffers drop events rather than block the ledger.
type MemoryBus struct {
	mu      sync.Mutex
	seq     uint64
	nextSub int
	subs    map[int]chan Envelope
	dropped uint64
}

// NewMemoryBus creates a new in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]chan Envelope)}
}

// Publish assigns the next sequence and fans the envelope out.
func (b *MemoryBus) Publish(_ context.Context, kind Kind, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	env := Envelope{
		ID:         uuid.NewString(),
		Seq:        b.seq,
		Kind:       kind,
		OccurredAt: time.Now().UnixMilli(),
		Payload:    payload,
	}
	b.seq++

	for _, ch := range b.subs {
		select {
		case ch <- env:
		default:
			b.dropped++
		}
	}
	return nil
}

// Subscribe registers a new subscriber with the given buffer size.
// The returned cancel func removes the subscription and closes the channel.
func (b *MemoryBus) Subscribe(buffer int) (<-chan Envelope, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSub
	b.nextSub++
	ch := make(chan Envelope, buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Dropped reports how many envelopes were discarded on full subscriber buffers.
func (b *MemoryBus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

var _ Bus = (*MemoryBus)(nil)
