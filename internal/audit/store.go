// Package audit persists the per-request log: every prompt that reaches
// the gateway, its payment token, and how it ended.
package audit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound means no record exists for the request id.
var ErrNotFound = errors.New("audit: request not found")

const (
	StatusPending   = "pending"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Record is one request's audit trail entry.
type Record struct {
	RequestID    string     `json:"request_id"`
	Prompt       string     `json:"prompt"`
	PaymentToken string     `json:"payment_token,omitempty"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Output       string     `json:"output,omitempty"`
}

// Store is the request log. Implementations must be safe for concurrent
// use; the gateway writes from every request goroutine.
type Store interface {
	LogPending(ctx context.Context, prompt string) (string, error)
	MarkSucceeded(ctx context.Context, requestID, output, paymentToken string) error
	MarkFailed(ctx context.Context, requestID, errMsg string) error
	Get(ctx context.Context, requestID string) (Record, error)
	Close()
}

// NewRequestID mints a 16-hex-char request identifier.
func NewRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// MemoryStore keeps the log in memory. Used in tests and when no database
// is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) LogPending(ctx context.Context, prompt string) (string, error) {
	id := NewRequestID()
	s.mu.Lock()
	s.records[id] = Record{
		RequestID: id,
		Prompt:    prompt,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Unlock()
	return id, nil
}

func (s *MemoryStore) MarkSucceeded(ctx context.Context, requestID, output, paymentToken string) error {
	return s.update(requestID, func(r *Record) {
		r.Status = StatusSucceeded
		r.Output = output
		r.PaymentToken = paymentToken
		now := time.Now().UTC()
		r.CompletedAt = &now
	})
}

func (s *MemoryStore) MarkFailed(ctx context.Context, requestID, errMsg string) error {
	return s.update(requestID, func(r *Record) {
		r.Status = StatusFailed
		r.Output = errMsg
	})
}

func (s *MemoryStore) update(requestID string, apply func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[requestID]
	if !ok {
		return ErrNotFound
	}
	apply(&r)
	s.records[requestID] = r
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, requestID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[requestID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) Close() {}
