package replay

import (
	"context"
	"sync"
	"time"

	paywall "github.com/mark3labs/paywall-go"
)

// DefaultSweepInterval is how often MemoryStore drops expired records.
const DefaultSweepInterval = time.Minute

// MemoryStore keeps usage records in process memory.
//
// It is only correct for a single process. Horizontally scaled deployments
// must use a shared backend such as RedisStore, otherwise each replica will
// accept the same signature once.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]paywall.SignatureUsage
	now     func() time.Time

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides time.Now.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore creates a store and starts its sweep goroutine. A
// non-positive interval uses DefaultSweepInterval. Call Close to stop it.
func NewMemoryStore(sweepInterval time.Duration, opts ...MemoryOption) *MemoryStore {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	s := &MemoryStore{
		records: make(map[string]paywall.SignatureUsage),
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.sweepLoop(sweepInterval)
	return s
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stop:
			return
		}
	}
}

// Sweep removes expired records and returns how many were dropped.
func (s *MemoryStore) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for sig, u := range s.records {
		if u.Expired(now) {
			delete(s.records, sig)
			n++
		}
	}
	return n
}

// Len returns the number of stored records, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close stops the sweep goroutine. It is safe to call more than once.
func (s *MemoryStore) Close() error {
	s.once.Do(func() {
		close(s.stop)
		<-s.done
	})
	return nil
}

func (s *MemoryStore) HasBeenUsed(ctx context.Context, signature string) (bool, error) {
	u, err := s.GetUsage(ctx, signature)
	return u != nil, err
}

func (s *MemoryStore) GetUsage(ctx context.Context, signature string) (*paywall.SignatureUsage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	u, ok := s.records[signature]
	s.mu.RUnlock()
	if !ok || u.Expired(s.now()) {
		return nil, nil
	}
	return &u, nil
}

func (s *MemoryStore) MarkAsUsed(ctx context.Context, signature, resourceID string, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.now()
	if !expiresAt.After(now) {
		return ErrExpired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[signature] = paywall.SignatureUsage{
		Signature:  signature,
		ResourceID: resourceID,
		UsedAt:     now,
		ExpiresAt:  expiresAt,
	}
	return nil
}

func (s *MemoryStore) Claim(ctx context.Context, usage paywall.SignatureUsage) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	now := s.now()
	if !usage.ExpiresAt.After(now) {
		return false, ErrExpired
	}
	if usage.UsedAt.IsZero() {
		usage.UsedAt = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[usage.Signature]; ok && !existing.Expired(now) {
		return false, nil
	}
	s.records[usage.Signature] = usage
	return true, nil
}

var _ Store = (*MemoryStore)(nil)
