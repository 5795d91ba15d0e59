package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown subscription IDs.
var ErrNotFound = errors.New("subscription not found")

// ErrInvalid is returned when a subscription fails validation.
var ErrInvalid = errors.New("invalid subscription")

// EventEmitter is a function that receives committed graph events
type EventEmitter func(Event)

// Repository persists subscriptions across restarts.
type Repository interface {
	SaveSubscription(ctx context.Context, sub *Subscription) error
	DeleteSubscription(ctx context.Context, id string) error
	LoadSubscriptions(ctx context.Context) ([]*Subscription, error)
}

// Options configures a Manager.
type Options struct {
	Runner  QueryRunner
	Repo    Repository // optional
	Logger  *slog.Logger
	Buffer  int
	Retries int
	Backoff time.Duration

	// RateLimit caps webhook requests per second; zero means unlimited.
	RateLimit float64
	RateBurst int
}

// Manager handles subscription lifecycle and event processing
type Manager struct {
	runner        QueryRunner
	repo          Repository
	logger        *slog.Logger
	subscriptions map[string]*Subscription
	eventChan     chan Event
	notifier      *Notifier
	matcher       *Matcher
	mu            sync.RWMutex
	saveMu        sync.Mutex // orders repository writes
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	stopOnce      sync.Once
	stopped       bool
}

// NewManager creates a new subscription manager
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 1000
	}
	notifier := NewNotifier(opts.Retries, opts.Backoff, logger)
	notifier.SetRateLimit(opts.RateLimit, opts.RateBurst)

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		runner:        opts.Runner,
		repo:          opts.Repo,
		logger:        logger,
		subscriptions: make(map[string]*Subscription),
		eventChan:     make(chan Event, buffer),
		notifier:      notifier,
		matcher:       NewMatcher(opts.Runner, logger),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start loads persisted subscriptions and begins processing events.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.loadSubscriptions(ctx); err != nil {
		m.logger.Warn("failed to load subscriptions", "error", err)
	}

	m.wg.Add(1)
	go m.processEvents()

	m.logger.Info("subscription manager started", "subscriptions", len(m.List()))
	return nil
}

// Stop drains queued events and waits for in-flight deliveries.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopped = true
		close(m.eventChan)
		m.mu.Unlock()

		m.wg.Wait()
		m.cancel()
		m.logger.Info("subscription manager stopped")
	})
}

// EmitEvent queues an event without blocking the committing writer.
// Events emitted after Stop are dropped.
func (m *Manager) EmitEvent(event Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.stopped {
		return
	}
	select {
	case m.eventChan <- event:
	default:
		m.logger.Warn("event channel full, dropping event", "event", event.ID, "type", event.Type)
	}
}

// GetEmitter returns a function that can be used to emit events
func (m *Manager) GetEmitter() EventEmitter {
	return m.EmitEvent
}

// Register adds a new subscription
func (m *Manager) Register(ctx context.Context, req *CreateSubscriptionRequest) (*Subscription, error) {
	now := time.Now()
	sub := &Subscription{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		Pattern:     req.Pattern,
		Webhook:     req.Webhook,
		Enabled:     true,
		Created:     now,
		Modified:    now,
	}

	if err := m.validate(ctx, sub); err != nil {
		return nil, err
	}

	if m.repo != nil {
		if err := m.repo.SaveSubscription(ctx, sub); err != nil {
			return nil, fmt.Errorf("failed to persist subscription: %w", err)
		}
	}

	m.mu.Lock()
	m.subscriptions[sub.ID] = sub
	m.mu.Unlock()

	m.logger.Info("registered subscription", "id", sub.ID, "name", sub.Name)
	return sub.clone(), nil
}

// Unregister removes a subscription
func (m *Manager) Unregister(ctx context.Context, id string) error {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.mu.RLock()
	_, exists := m.subscriptions[id]
	m.mu.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if m.repo != nil {
		if err := m.repo.DeleteSubscription(ctx, id); err != nil {
			return fmt.Errorf("failed to delete subscription: %w", err)
		}
	}

	m.mu.Lock()
	delete(m.subscriptions, id)
	m.mu.Unlock()

	m.logger.Info("unregistered subscription", "id", id)
	return nil
}

// Update modifies an existing subscription. Fire bookkeeping recorded
// while the update is in flight is kept.
func (m *Manager) Update(ctx context.Context, id string, req *UpdateSubscriptionRequest) (*Subscription, error) {
	candidate, err := m.current(id)
	if err != nil {
		return nil, err
	}
	req.apply(candidate)
	if err := m.validate(ctx, candidate); err != nil {
		return nil, err
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	sub, err := m.current(id)
	if err != nil {
		return nil, err
	}
	req.apply(sub)
	sub.Modified = time.Now()

	if m.repo != nil {
		if err := m.repo.SaveSubscription(ctx, sub); err != nil {
			return nil, fmt.Errorf("failed to update subscription: %w", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	live, exists := m.subscriptions[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	// Fires counted since sub was read are persisted by their own pending
	// save, which waits on saveMu.
	sub.FireCount = live.FireCount
	sub.LastFired = live.LastFired
	m.subscriptions[id] = sub
	return sub.clone(), nil
}

func (r *UpdateSubscriptionRequest) apply(sub *Subscription) {
	if r.Name != nil {
		sub.Name = *r.Name
	}
	if r.Description != nil {
		sub.Description = *r.Description
	}
	if r.Pattern != nil {
		sub.Pattern = *r.Pattern
	}
	if r.Webhook != nil {
		sub.Webhook = *r.Webhook
	}
	if r.Enabled != nil {
		sub.Enabled = *r.Enabled
	}
}

func (m *Manager) current(id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, exists := m.subscriptions[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sub.clone(), nil
}

// persist writes the live copy of subscription id, if it still exists.
func (m *Manager) persist(ctx context.Context, id string) error {
	if m.repo == nil {
		return nil
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	sub, err := m.current(id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return m.repo.SaveSubscription(ctx, sub)
}

// Get returns a subscription by ID
func (m *Manager) Get(id string) (*Subscription, error) {
	return m.current(id)
}

// List returns all subscriptions ordered by creation time.
func (m *Manager) List() []*Subscription {
	m.mu.RLock()
	result := make([]*Subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		result = append(result, sub.clone())
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Created.Equal(result[j].Created) {
			return result[i].ID < result[j].ID
		}
		return result[i].Created.Before(result[j].Created)
	})
	return result
}

func (m *Manager) validate(ctx context.Context, sub *Subscription) error {
	if sub.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if sub.Webhook == "" {
		return fmt.Errorf("%w: webhook URL is required", ErrInvalid)
	}
	if sub.Pattern.Query != "" {
		if m.runner == nil {
			return fmt.Errorf("%w: query patterns are not supported", ErrInvalid)
		}
		if _, err := m.runner.QueryRows(ctx, sub.Pattern.Query); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	return nil
}

// processEvents is the main event processing loop
func (m *Manager) processEvents() {
	defer m.wg.Done()

	for event := range m.eventChan {
		m.handleEvent(event)
	}
}

// handleEvent processes a single event against all subscriptions
func (m *Manager) handleEvent(event Event) {
	m.mu.RLock()
	subs := make([]*Subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		if sub.Enabled {
			subs = append(subs, sub.clone())
		}
	}
	m.mu.RUnlock()

	for _, sub := range subs {
		m.wg.Add(1)
		go m.evaluateSubscription(event, sub)
	}
}

// evaluateSubscription checks if an event matches a subscription and fires notification
func (m *Manager) evaluateSubscription(event Event, sub *Subscription) {
	defer m.wg.Done()

	ctx, cancel := context.WithTimeout(m.ctx, 10*time.Second)
	defer cancel()

	matched, results := m.matcher.Match(ctx, event, sub.Pattern)
	if !matched {
		return
	}

	now := time.Now()
	notification := Notification{
		SubscriptionID:   sub.ID,
		SubscriptionName: sub.Name,
		Event:            event,
		MatchedAt:        now,
		QueryResults:     results,
	}

	m.mu.Lock()
	if s, exists := m.subscriptions[sub.ID]; exists {
		s.LastFired = &now
		s.FireCount++
	}
	m.mu.Unlock()

	if err := m.persist(ctx, sub.ID); err != nil {
		m.logger.Warn("failed to persist fire count", "id", sub.ID, "error", err)
	}

	m.logger.Debug("subscription fired", "id", sub.ID, "event", event.Type)

	if err := m.notifier.SendWebhook(m.ctx, sub.Webhook, notification); err != nil {
		m.logger.Warn("notification not delivered", "id", sub.ID, "error", err)
	}
}

// loadSubscriptions loads all subscriptions from storage into memory
func (m *Manager) loadSubscriptions(ctx context.Context) error {
	if m.repo == nil {
		return nil
	}
	subs, err := m.repo.LoadSubscriptions(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range subs {
		m.subscriptions[sub.ID] = sub
	}
	return nil
}

func (s *Subscription) clone() *Subscription {
	c := *s
	if s.LastFired != nil {
		t := *s.LastFired
		c.LastFired = &t
	}
	return &c
}
