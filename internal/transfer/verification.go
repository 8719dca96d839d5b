package transfer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mhbank/bankcore/internal/idgen"
	"github.com/mhbank/bankcore/internal/metrics"
)

var (
	ErrChallengeNotFound  = errors.New("verification challenge not found or expired")
	ErrChallengeForbidden = errors.New("verification challenge belongs to another user")
)

// Pending is a transfer parked behind a step-up verification challenge.
type Pending struct {
	Challenge   string
	RequesterID string
	Request     Request
	RiskScore   int
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// PendingStore holds open verification challenges in memory with an explicit
// lifecycle: create at process start, Start the prune loop, Stop on shutdown.
// Challenges are single-use; Take removes them.
type PendingStore struct {
	mu      sync.Mutex
	entries map[string]*Pending
	ttl     time.Duration
	now     func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// NewPendingStore creates a challenge store whose entries expire after ttl.
func NewPendingStore(ttl time.Duration) *PendingStore {
	return &PendingStore{
		entries: make(map[string]*Pending),
		ttl:     ttl,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
}

// WithClock overrides the store's clock (tests).
func (s *PendingStore) WithClock(now func() time.Time) *PendingStore {
	s.now = now
	return s
}

// Start launches the background prune loop.
func (s *PendingStore) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Prune()
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the prune loop. Safe to call more than once.
func (s *PendingStore) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Put parks a transfer behind a fresh challenge and returns it.
func (s *PendingStore) Put(requesterID string, req Request, riskScore int) *Pending {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	p := &Pending{
		Challenge:   idgen.WithPrefix("chal_"),
		RequesterID: requesterID,
		Request:     req,
		RiskScore:   riskScore,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}
	s.entries[p.Challenge] = p
	metrics.PendingVerifications.Set(float64(len(s.entries)))
	return p
}

// Take removes and returns the challenge. Expired or unknown challenges
// report ErrChallengeNotFound; a requester mismatch leaves the challenge in
// place and reports ErrChallengeForbidden.
func (s *PendingStore) Take(challenge, requesterID string) (*Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.entries[challenge]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	if s.now().After(p.ExpiresAt) {
		delete(s.entries, challenge)
		metrics.PendingVerifications.Set(float64(len(s.entries)))
		return nil, ErrChallengeNotFound
	}
	if p.RequesterID != requesterID {
		return nil, ErrChallengeForbidden
	}

	delete(s.entries, challenge)
	metrics.PendingVerifications.Set(float64(len(s.entries)))
	return p, nil
}

// Prune drops expired challenges.
func (s *PendingStore) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for challenge, p := range s.entries {
		if now.After(p.ExpiresAt) {
			delete(s.entries, challenge)
		}
	}
	metrics.PendingVerifications.Set(float64(len(s.entries)))
}

// Len reports the number of open challenges.
func (s *PendingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
