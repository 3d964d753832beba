package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-api/internal/models"
)

type captureSink struct {
	mu       sync.Mutex
	received []models.Notification
	failNext int
	done     chan struct{}
}

func newCaptureSink(expect int) *captureSink {
	return &captureSink{done: make(chan struct{}, expect)}
}

func (s *captureSink) Send(_ context.Context, n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return errors.New("transport down")
	}
	s.received = append(s.received, n)
	s.done <- struct{}{}
	return nil
}

func (s *captureSink) all() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Notification, len(s.received))
	copy(out, s.received)
	return out
}

func waitFor(t *testing.T, done <-chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for notification delivery")
		}
	}
}

func TestNotificationServiceDelivers(t *testing.T) {
	sink := newCaptureSink(2)
	svc := NewNotificationService(sink, nil, zap.NewNop(), NotificationConfig{
		Enabled:    true,
		Workers:    2,
		BufferSize: 8,
	})
	svc.Start(context.Background())
	defer svc.Stop()

	require.NoError(t, svc.Notify(context.Background(), "Student One", "Meeting cancelled", "your meeting was cancelled"))
	require.NoError(t, svc.Notify(context.Background(), "Tutor One", "Registration withdrawn", "the student withdrew"))

	waitFor(t, sink.done, 2)
	received := sink.all()
	require.Len(t, received, 2)
	recipients := []string{received[0].Recipient, received[1].Recipient}
	assert.ElementsMatch(t, []string{"Student One", "Tutor One"}, recipients)
}

func TestNotificationServiceRetriesFailedDelivery(t *testing.T) {
	sink := newCaptureSink(1)
	sink.failNext = 1
	svc := NewNotificationService(sink, nil, zap.NewNop(), NotificationConfig{
		Enabled:    true,
		Workers:    1,
		BufferSize: 4,
		MaxRetries: 3,
		RetryDelay: 10 * time.Millisecond,
	})
	svc.Start(context.Background())
	defer svc.Stop()

	require.NoError(t, svc.Notify(context.Background(), "Student One", "Meeting rescheduled", "new time"))

	waitFor(t, sink.done, 1)
	received := sink.all()
	require.Len(t, received, 1)
	assert.Equal(t, "Student One", received[0].Recipient)
}

func TestNotificationServiceDisabledIsNoop(t *testing.T) {
	sink := newCaptureSink(1)
	svc := NewNotificationService(sink, nil, zap.NewNop(), NotificationConfig{Enabled: false})
	svc.Start(context.Background())
	defer svc.Stop()

	require.NoError(t, svc.Notify(context.Background(), "Student One", "Title", "body"))
	assert.Empty(t, sink.all())
}
