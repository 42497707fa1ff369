package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/yungbote/lessonforge/internal/realtime"
)

// memoryBus delivers in process; used when REDIS_ADDR is unset and in tests.
type memoryBus struct {
	mu   sync.RWMutex
	subs []func(realtime.SSEMessage)
}

func NewMemoryBus() Bus {
	return &memoryBus{}
}

func (b *memoryBus) Publish(_ context.Context, msg realtime.SSEMessage) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, fn := range b.subs {
		fn(msg)
	}
	return nil
}

func (b *memoryBus) StartForwarder(ctx context.Context, onMsg func(m realtime.SSEMessage)) error {
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}
	b.mu.Lock()
	idx := len(b.subs)
	b.subs = append(b.subs, onMsg)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		b.subs[idx] = func(realtime.SSEMessage) {}
		b.mu.Unlock()
	}()
	return nil
}

func (b *memoryBus) Close() error { return nil }
