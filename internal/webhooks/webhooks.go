// Package webhooks delivers risk alerts to external services.
//
// Operators register a URL and the event types they care about (usually
// blocked and step-up assessments). Every delivery is a JSON POST signed
// with HMAC-SHA256 over the body using the subscription secret.
package webhooks

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/sentinel/internal/risk"
)

// EventType represents the type of webhook event
type EventType string

const (
	EventAssessmentApproved EventType = "assessment.approved"
	EventAssessmentReview   EventType = "assessment.review"
	EventAssessmentStepUp   EventType = "assessment.step_up"
	EventAssessmentBlocked  EventType = "assessment.blocked"
	EventBlockSealed        EventType = "block.sealed"
)

// EventTypes lists every event a subscription may ask for.
var EventTypes = []EventType{
	EventAssessmentApproved,
	EventAssessmentReview,
	EventAssessmentStepUp,
	EventAssessmentBlocked,
	EventBlockSealed,
}

// ErrNotFound is returned when a subscription does not exist.
var ErrNotFound = errors.New("webhook subscription not found")

// maxConsecutiveFailures disables a subscription after this many failed
// deliveries in a row.
const maxConsecutiveFailures = 10

// EventForDecision maps an assessment decision to its event type.
func EventForDecision(d risk.Decision) (EventType, bool) {
	switch d {
	case risk.DecisionApproved:
		return EventAssessmentApproved, true
	case risk.DecisionReview:
		return EventAssessmentReview, true
	case risk.DecisionStepUpAuth:
		return EventAssessmentStepUp, true
	case risk.DecisionBlocked:
		return EventAssessmentBlocked, true
	}
	return "", false
}

// Event is the body of one delivery.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Subscription represents a webhook subscription
type Subscription struct {
	ID     string      `json:"id"`
	URL    string      `json:"url"`
	Secret string      `json:"-"`
	Events []EventType `json:"events"`
	// Accounts restricts assessment events to these senders; empty means all.
	Accounts            []string   `json:"accounts,omitempty"`
	Active              bool       `json:"active"`
	CreatedAt           time.Time  `json:"createdAt"`
	LastSuccess         *time.Time `json:"lastSuccess,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
}

// Wants reports whether the subscription should receive an event of type
// et about account. Block events carry no account.
func (s *Subscription) Wants(et EventType, account string) bool {
	if !s.Active || !slices.Contains(s.Events, et) {
		return false
	}
	if account == "" || len(s.Accounts) == 0 {
		return true
	}
	return slices.Contains(s.Accounts, account)
}

// Store persists webhook subscriptions
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	List(ctx context.Context) ([]*Subscription, error)
	// ListByEvent returns active subscriptions that include eventType.
	ListByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error)
	// RecordDelivery stores the outcome of one delivery attempt, disabling
	// the subscription after too many consecutive failures.
	RecordDelivery(ctx context.Context, id string, at time.Time, deliveryErr string) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]*Subscription)}
}

func (m *MemoryStore) Create(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = copySubscription(sub)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySubscription(sub), nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		out = append(out, copySubscription(sub))
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) ListByEvent(_ context.Context, eventType EventType) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Subscription
	for _, sub := range m.subs {
		if sub.Active && slices.Contains(sub.Events, eventType) {
			out = append(out, copySubscription(sub))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) RecordDelivery(_ context.Context, id string, at time.Time, deliveryErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return ErrNotFound
	}
	if deliveryErr == "" {
		sub.LastSuccess = &at
		sub.LastError = ""
		sub.ConsecutiveFailures = 0
		return nil
	}
	sub.LastError = deliveryErr
	sub.ConsecutiveFailures++
	if sub.ConsecutiveFailures >= maxConsecutiveFailures {
		sub.Active = false
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return ErrNotFound
	}
	delete(m.subs, id)
	return nil
}

func copySubscription(s *Subscription) *Subscription {
	c := *s
	c.Events = slices.Clone(s.Events)
	c.Accounts = slices.Clone(s.Accounts)
	if s.LastSuccess != nil {
		t := *s.LastSuccess
		c.LastSuccess = &t
	}
	return &c
}

func sortNewestFirst(subs []*Subscription) {
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].CreatedAt.Equal(subs[j].CreatedAt) {
			return subs[i].ID > subs[j].ID
		}
		return subs[i].CreatedAt.After(subs[j].CreatedAt)
	})
}
