package persister

import (
	"context"
	"sync"
	"time"
)

type storedEntry struct {
	entry   Entry
	expires time.Time
}

type inMemoryStore struct {
	ctx       context.Context
	cancel    context.CancelFunc
	entries   map[string]*storedEntry
	mutex     sync.Mutex
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
}

var _ Store = (*inMemoryStore)(nil)

// NewInMemory returns a Store backed by an in-process map. Expired entries
// are dropped by a background sweep.
func NewInMemory(parent context.Context, opts ...Option) Store {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	s := &inMemoryStore{
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*storedEntry),
		cfg:     cfg,
	}
	s.waitGroup.Add(1)
	go s.run()
	return s
}

func (s *inMemoryStore) GetContext(_ context.Context, key string) (bool, Entry, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	stored, ok := s.entries[key]
	if !ok {
		return false, Entry{}, nil
	}
	if stored.expires.Before(time.Now()) {
		delete(s.entries, key)
		return false, Entry{}, nil
	}
	return true, stored.entry, nil
}

func (s *inMemoryStore) SetContext(_ context.Context, key string, entry Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.cfg.defaultTTL
	}
	s.mutex.Lock()
	s.entries[key] = &storedEntry{entry: entry, expires: time.Now().Add(ttl)}
	s.mutex.Unlock()
	return nil
}

func (s *inMemoryStore) DeleteContext(_ context.Context, key string) (bool, error) {
	s.mutex.Lock()
	_, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
	}
	s.mutex.Unlock()
	return ok, nil
}

func (s *inMemoryStore) CloseContext(_ context.Context) error {
	s.once.Do(func() {
		s.cancel()
		s.waitGroup.Wait()
	})
	return nil
}

func (s *inMemoryStore) run() {
	defer s.waitGroup.Done()
	ticker := time.NewTicker(s.cfg.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			s.mutex.Lock()
			for key, stored := range s.entries {
				if stored.expires.Before(now) {
					delete(s.entries, key)
				}
			}
			s.mutex.Unlock()
		}
	}
}
