package subscriptions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) SaveSubscription(ctx context.Context, sub *Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

func (m *mockRepository) DeleteSubscription(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockRepository) LoadSubscriptions(ctx context.Context) ([]*Subscription, error) {
	args := m.Called(ctx)
	subs, _ := args.Get(0).([]*Subscription)
	return subs, args.Error(1)
}

func TestManagerRepositoryFailures(t *testing.T) {
	errDisk := errors.New("disk full")
	ctx := context.Background()

	t.Run("register not persisted", func(t *testing.T) {
		repo := new(mockRepository)
		repo.On("SaveSubscription", mock.Anything, mock.AnythingOfType("*subscriptions.Subscription")).
			Return(errDisk).Once()

		m := NewManager(Options{Repo: repo, Logger: discardLogger()})
		_, err := m.Register(ctx, &CreateSubscriptionRequest{Name: "a", Webhook: "http://x"})
		require.ErrorIs(t, err, errDisk)
		assert.Empty(t, m.List())
		repo.AssertExpectations(t)
	})

	t.Run("unregister keeps subscription", func(t *testing.T) {
		repo := new(mockRepository)
		repo.On("SaveSubscription", mock.Anything, mock.Anything).Return(nil).Once()

		m := NewManager(Options{Repo: repo, Logger: discardLogger()})
		sub, err := m.Register(ctx, &CreateSubscriptionRequest{Name: "a", Webhook: "http://x"})
		require.NoError(t, err)

		repo.On("DeleteSubscription", mock.Anything, sub.ID).Return(errDisk).Once()
		require.ErrorIs(t, m.Unregister(ctx, sub.ID), errDisk)

		_, err = m.Get(sub.ID)
		assert.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("update leaves previous version", func(t *testing.T) {
		repo := new(mockRepository)
		repo.On("SaveSubscription", mock.Anything, mock.Anything).Return(nil).Once()

		m := NewManager(Options{Repo: repo, Logger: discardLogger()})
		sub, err := m.Register(ctx, &CreateSubscriptionRequest{Name: "a", Webhook: "http://x"})
		require.NoError(t, err)

		repo.On("SaveSubscription", mock.Anything, mock.MatchedBy(func(s *Subscription) bool {
			return s.Name == "b"
		})).Return(errDisk).Once()

		name := "b"
		_, err = m.Update(ctx, sub.ID, &UpdateSubscriptionRequest{Name: &name})
		require.ErrorIs(t, err, errDisk)

		got, err := m.Get(sub.ID)
		require.NoError(t, err)
		assert.Equal(t, "a", got.Name)
		repo.AssertExpectations(t)
	})

	t.Run("start survives load failure", func(t *testing.T) {
		repo := new(mockRepository)
		repo.On("LoadSubscriptions", mock.Anything).Return(nil, errDisk).Once()

		m := NewManager(Options{Repo: repo, Logger: discardLogger()})
		require.NoError(t, m.Start(ctx))
		m.Stop()

		assert.Empty(t, m.List())
		repo.AssertExpectations(t)
	})
}
