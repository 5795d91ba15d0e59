package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu   sync.Mutex
	subs map[string]*Subscription
}

func newMemRepo() *memRepo {
	return &memRepo{subs: make(map[string]*Subscription)}
}

func (r *memRepo) SaveSubscription(_ context.Context, sub *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.ID] = sub.clone()
	return nil
}

func (r *memRepo) DeleteSubscription(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
	return nil
}

func (r *memRepo) LoadSubscriptions(context.Context) ([]*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Subscription
	for _, s := range r.subs {
		out = append(out, s.clone())
	}
	return out, nil
}

func TestManagerLifecycle(t *testing.T) {
	repo := newMemRepo()
	m := NewManager(Options{Repo: repo, Logger: discardLogger()})
	ctx := context.Background()

	_, err := m.Register(ctx, &CreateSubscriptionRequest{Webhook: "http://x"})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = m.Register(ctx, &CreateSubscriptionRequest{Name: "no hook"})
	assert.ErrorIs(t, err, ErrInvalid)

	sub, err := m.Register(ctx, &CreateSubscriptionRequest{Name: "kids", Webhook: "http://x"})
	require.NoError(t, err)
	assert.True(t, sub.Enabled)
	assert.Contains(t, repo.subs, sub.ID)

	disabled := false
	name := "children"
	updated, err := m.Update(ctx, sub.ID, &UpdateSubscriptionRequest{Name: &name, Enabled: &disabled})
	require.NoError(t, err)
	assert.Equal(t, "children", updated.Name)
	assert.False(t, updated.Enabled)
	assert.Equal(t, "children", repo.subs[sub.ID].Name)

	got, err := m.Get(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.Name, got.Name)
	assert.Len(t, m.List(), 1)

	require.NoError(t, m.Unregister(ctx, sub.ID))
	assert.Empty(t, repo.subs)

	_, err = m.Get(sub.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Unregister(ctx, sub.ID), ErrNotFound)
	_, err = m.Update(ctx, sub.ID, &UpdateSubscriptionRequest{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagerValidatesQuery(t *testing.T) {
	runner := &fakeRunner{err: errors.New("parse error")}
	m := NewManager(Options{Runner: runner, Logger: discardLogger()})

	_, err := m.Register(context.Background(), &CreateSubscriptionRequest{
		Name:    "bad",
		Webhook: "http://x",
		Pattern: SubscriptionPattern{Query: "MATCH nonsense"},
	})
	assert.ErrorIs(t, err, ErrInvalid)

	withoutRunner := NewManager(Options{Logger: discardLogger()})
	_, err = withoutRunner.Register(context.Background(), &CreateSubscriptionRequest{
		Name:    "bad",
		Webhook: "http://x",
		Pattern: SubscriptionPattern{Query: "START n=node:i(k='v') RETURN n"},
	})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestManagerLoadsPersistedSubscriptions(t *testing.T) {
	repo := newMemRepo()
	first := NewManager(Options{Repo: repo, Logger: discardLogger()})
	sub, err := first.Register(context.Background(), &CreateSubscriptionRequest{Name: "kids", Webhook: "http://x"})
	require.NoError(t, err)

	second := NewManager(Options{Repo: repo, Logger: discardLogger()})
	require.NoError(t, second.Start(context.Background()))
	defer second.Stop()

	got, err := second.Get(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "kids", got.Name)
}

func TestManagerDeliversMatchingEvents(t *testing.T) {
	var mu sync.Mutex
	var received []Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n Notification
		if err := json.NewDecoder(r.Body).Decode(&n); err == nil {
			mu.Lock()
			received = append(received, n)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := NewManager(Options{Logger: discardLogger()})
	require.NoError(t, m.Start(context.Background()))

	sub, err := m.Register(context.Background(), &CreateSubscriptionRequest{
		Name:    "children",
		Webhook: srv.URL,
		Pattern: SubscriptionPattern{
			EventTypes: []string{EventLinkCreated},
			LinkTypes:  []string{"IS_CHILD_OF"},
		},
	})
	require.NoError(t, err)

	emit := m.GetEmitter()
	emit(Event{ID: "1", Type: EventLinkCreated, LinkType: "IS_CHILD_OF", LinkSource: "2", LinkTarget: "1"})
	emit(Event{ID: "2", Type: EventLinkCreated, LinkType: "IS_FATHER_OF"})
	emit(Event{ID: "3", Type: EventNodeCreated, NodeID: "7"})
	m.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, sub.ID, received[0].SubscriptionID)
	assert.Equal(t, "1", received[0].Event.ID)
	assert.Equal(t, "2", received[0].Event.LinkSource)

	got, err := m.Get(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.FireCount)
	assert.NotNil(t, got.LastFired)
}

// gatedRepo holds the first save of a subscription named hold until
// release is closed.
type gatedRepo struct {
	*memRepo
	hold    string
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (r *gatedRepo) SaveSubscription(ctx context.Context, sub *Subscription) error {
	if sub.Name == r.hold {
		r.once.Do(func() {
			close(r.entered)
			<-r.release
		})
	}
	return r.memRepo.SaveSubscription(ctx, sub)
}

func TestManagerUpdateKeepsConcurrentFires(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	repo := &gatedRepo{
		memRepo: newMemRepo(),
		hold:    "renamed",
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	m := NewManager(Options{Repo: repo, Logger: discardLogger()})
	require.NoError(t, m.Start(context.Background()))

	sub, err := m.Register(context.Background(), &CreateSubscriptionRequest{Name: "all", Webhook: srv.URL})
	require.NoError(t, err)

	updated := make(chan error, 1)
	go func() {
		name := "renamed"
		_, err := m.Update(context.Background(), sub.ID, &UpdateSubscriptionRequest{Name: &name})
		updated <- err
	}()
	<-repo.entered

	m.EmitEvent(Event{ID: "1", Type: EventNodeCreated})
	require.Eventually(t, func() bool {
		got, err := m.Get(sub.ID)
		return err == nil && got.FireCount == 1
	}, time.Second, 5*time.Millisecond)

	close(repo.release)
	require.NoError(t, <-updated)
	m.Stop()

	got, err := m.Get(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, 1, got.FireCount)
	assert.NotNil(t, got.LastFired)

	stored, err := repo.LoadSubscriptions(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "renamed", stored[0].Name)
	assert.Equal(t, 1, stored[0].FireCount)
}

func TestManagerUnregisterDoesNotBlockReaders(t *testing.T) {
	repo := new(mockRepository)
	repo.On("SaveSubscription", mock.Anything, mock.Anything).Return(nil)
	repo.On("LoadSubscriptions", mock.Anything).Return(nil, nil)

	m := NewManager(Options{Repo: repo, Logger: discardLogger()})
	require.NoError(t, m.Start(context.Background()))

	doomed, err := m.Register(context.Background(), &CreateSubscriptionRequest{Name: "doomed", Webhook: "http://x"})
	require.NoError(t, err)
	_, err = m.Register(context.Background(), &CreateSubscriptionRequest{Name: "kept", Webhook: "http://x"})
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	repo.On("DeleteSubscription", mock.Anything, doomed.ID).Run(func(mock.Arguments) {
		close(entered)
		<-release
	}).Return(nil).Once()

	unregistered := make(chan error, 1)
	go func() { unregistered <- m.Unregister(context.Background(), doomed.ID) }()
	<-entered

	assert.Len(t, m.List(), 2)
	_, err = m.Get(doomed.ID)
	assert.NoError(t, err)

	close(release)
	require.NoError(t, <-unregistered)
	m.Stop()

	_, err = m.Get(doomed.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	repo.AssertExpectations(t)
}

func TestManagerSkipsDisabled(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	m := NewManager(Options{Logger: discardLogger()})
	require.NoError(t, m.Start(context.Background()))

	sub, err := m.Register(context.Background(), &CreateSubscriptionRequest{Name: "all", Webhook: srv.URL})
	require.NoError(t, err)
	off := false
	_, err = m.Update(context.Background(), sub.ID, &UpdateSubscriptionRequest{Enabled: &off})
	require.NoError(t, err)

	m.EmitEvent(Event{ID: "1", Type: EventNodeCreated})
	m.Stop()
	assert.Zero(t, hits.Load())
}

func TestNotifierRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, EventNodeCreated, r.Header.Get("X-Graphcore-Event"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(3, time.Millisecond, discardLogger())
	err := n.SendWebhook(context.Background(), srv.URL, Notification{Event: Event{Type: EventNodeCreated}})
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestNotifierGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewNotifier(2, time.Millisecond, discardLogger())
	err := n.SendWebhook(context.Background(), srv.URL, Notification{})

	var werr *WebhookError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, http.StatusBadGateway, werr.StatusCode)
}

func TestNotifierRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(1, time.Millisecond, discardLogger())
	n.SetRateLimit(20, 1)

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, n.SendWebhook(context.Background(), srv.URL, Notification{}))
	}
	// One token up front, then one every 50ms.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := n.SendWebhook(ctx, srv.URL, Notification{})
	assert.Error(t, err)
}
