package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"hardware-checkout-backend/internal/model"
	"hardware-checkout-backend/internal/store"
)

// mockSender is a mock implementation of the NotificationSender interface.
type mockSender struct {
	SendFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// Send calls the mock SendFunc.
func (m *mockSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return m.SendFunc(payload, sub, options)
}

// A helper function to create a mock database connection.
func newTestStore(t *testing.T) (store.Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return store.NewGormStore(gormDB), mock
}

func TestWorkerPool_Notify(t *testing.T) {
	s, _ := newTestStore(t)
	wp := NewWorkerPool(1, 4, s, nil, nil)

	wp.Notify(123, Lost("fpga-1"))

	select {
	case j := <-wp.jobs:
		assert.Equal(t, int64(123), j.userID)
		assert.Equal(t, EventLost, j.event.Type)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for job to be dispatched")
	}
}

func TestWorkerPool_NotifyDropsWhenFull(t *testing.T) {
	s, _ := newTestStore(t)
	wp := NewWorkerPool(1, 1, s, nil, nil)

	done := make(chan struct{})
	go func() {
		wp.Notify(1, Lost("a"))
		wp.Notify(1, Lost("b"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full queue")
	}
	assert.Len(t, wp.jobs, 1)
}

func TestWorkerPool_WebPush(t *testing.T) {
	s, mock := newTestStore(t)
	wp := NewWorkerPool(1, 4, s, nil, &webpush.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)

	t.Run("sends event to every subscription", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(1)

		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				defer wg.Done()
				assert.Equal(t, "https://example.com/push", sub.Endpoint)
				assert.Equal(t, "test_p256dh", sub.Keys.P256dh)

				var ev Event
				assert.NoError(t, json.Unmarshal(payload, &ev))
				assert.Equal(t, EventAssigned, ev.Type)
				assert.Equal(t, "fpga-1", ev.Device)
				assert.Equal(t, "ssh://10.0.0.5", ev.SSH)
				return &http.Response{
					StatusCode: http.StatusCreated,
					Body:       io.NopCloser(bytes.NewBufferString("")),
				}, nil
			},
		}

		mock.ExpectQuery(`SELECT \* FROM "push_subscriptions" WHERE user_id = \$1`).
			WithArgs(int64(101)).
			WillReturnRows(sqlmock.NewRows([]string{"endpoint", "user_id", "p256dh", "auth", "created_at"}).
				AddRow("https://example.com/push", 101, "test_p256dh", "test_auth", time.Now()))

		ssh := "ssh://10.0.0.5"
		wp.Notify(101, Assigned(model.Device{Name: "fpga-1", SSHAddr: &ssh}))
		wg.Wait()
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deletes expired subscription", func(t *testing.T) {
		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				return &http.Response{
					StatusCode: http.StatusGone,
					Body:       io.NopCloser(bytes.NewBufferString("")),
				}, nil
			},
		}

		mock.ExpectQuery(`SELECT \* FROM "push_subscriptions" WHERE user_id = \$1`).
			WithArgs(int64(102)).
			WillReturnRows(sqlmock.NewRows([]string{"endpoint", "user_id", "p256dh", "auth", "created_at"}).
				AddRow("https://example.com/expired", 102, "p", "a", time.Now()))

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM "push_subscriptions" WHERE "push_subscriptions"."endpoint" = \$1`).
			WithArgs("https://example.com/expired").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		wp.Notify(102, Reclaimed("fpga-2"))

		assert.Eventually(t, func() bool {
			return mock.ExpectationsWereMet() == nil
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("subscription lookup failure stops delivery", func(t *testing.T) {
		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				t.Error("sender must not be called")
				return nil, errors.New("unexpected")
			},
		}

		mock.ExpectQuery(`SELECT \* FROM "push_subscriptions" WHERE user_id = \$1`).
			WithArgs(int64(103)).
			WillReturnError(errors.New("connection reset"))

		wp.Notify(103, Lost("fpga-3"))

		assert.Eventually(t, func() bool {
			return mock.ExpectationsWereMet() == nil
		}, time.Second, 10*time.Millisecond)
	})
}
