package delivery

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"notification-workers/internal/common/logger"
	"notification-workers/internal/models"
	"notification-workers/internal/transport"
)

// ==========================
// Mock Implementations
// ==========================

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// fakeStrategy succeeds unless DeliverFunc returns an error for the call.
type fakeStrategy struct {
	channel     models.Channel
	DeliverFunc func(call int) error

	mu    sync.Mutex
	calls int
}

func newFakeStrategy(ch models.Channel, fn func(call int) error) *fakeStrategy {
	return &fakeStrategy{channel: ch, DeliverFunc: fn}
}

func (f *fakeStrategy) Channel() models.Channel { return f.channel }

func (f *fakeStrategy) Deliver(ctx context.Context, n *models.Notification, deliveryID string) *models.ChannelResult {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	var err error
	if f.DeliverFunc != nil {
		err = f.DeliverFunc(call)
	}
	if err != nil {
		return &models.ChannelResult{Failed: len(n.Recipients), Error: err.Error(), Err: err}
	}
	return &models.ChannelResult{Success: true, Delivered: len(n.Recipients)}
}

func (f *fakeStrategy) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func alwaysFail(msg string) func(int) error {
	return func(int) error { return fmt.Errorf("%s", msg) }
}

type fakeGateway struct {
	mu           sync.Mutex
	online       map[string]bool
	sent         []string
	broadcasts   int
	broadcastErr error
	stats        transport.BroadcastStats
}

func (g *fakeGateway) SendToUser(ctx context.Context, userID string, payload transport.SocketPayload) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, userID)
	return g.online[userID], nil
}

func (g *fakeGateway) BroadcastToRole(ctx context.Context, role models.UserRole, payload transport.SocketPayload) (transport.BroadcastStats, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.broadcasts++
	return g.stats, g.broadcastErr
}

// plainGateway has no broadcast support.
type plainGateway struct {
	SendToUserFunc func(userID string) (bool, error)
}

func (g *plainGateway) SendToUser(ctx context.Context, userID string, payload transport.SocketPayload) (bool, error) {
	return g.SendToUserFunc(userID)
}

type mockEmailSender struct {
	SendEmailFunc func(msg transport.EmailMessage) (*transport.Receipt, error)
}

func (m *mockEmailSender) SendEmail(ctx context.Context, msg transport.EmailMessage) (*transport.Receipt, error) {
	return m.SendEmailFunc(msg)
}

type mockSMSSender struct {
	SendSMSFunc func(msg transport.SMSMessage) (*transport.Receipt, error)
}

func (m *mockSMSSender) SendSMS(ctx context.Context, msg transport.SMSMessage) (*transport.Receipt, error) {
	return m.SendSMSFunc(msg)
}

// ==========================
// Test Helper Functions
// ==========================

type testManager struct {
	*Manager
	clock  *testClock
	sleeps *sleepRecorder
	store  *MemoryRetryStore
}

func createTestManager(t *testing.T, strategies ...Strategy) *testManager {
	t.Helper()
	clock := newTestClock()
	sleeps := &sleepRecorder{}
	store := NewMemoryRetryStore()

	var seq int
	var seqMu sync.Mutex
	m := NewManager(DefaultConfig(), strategies, store, logger.NewTestLogger(t),
		WithClock(clock.Now),
		WithSleep(sleeps.Sleep),
		WithIDGenerator(func() string {
			seqMu.Lock()
			defer seqMu.Unlock()
			seq++
			return fmt.Sprintf("delivery-%d", seq)
		}),
	)
	t.Cleanup(m.Close)
	return &testManager{Manager: m, clock: clock, sleeps: sleeps, store: store}
}

func createTestNotification(priority models.Priority, recipients ...models.Recipient) *models.Notification {
	if len(recipients) == 0 {
		recipients = []models.Recipient{{
			UserID: "patient-1",
			Role:   models.RolePatient,
			Email:  "patient@example.com",
			Phone:  "+15551234567",
		}}
	}
	return &models.Notification{
		ID:         "notif-1",
		Type:       models.TemplateOrderConfirmed,
		Recipients: recipients,
		Content: models.Content{
			Title:   "Order confirmed",
			Message: "Your order ORD-1 is confirmed",
		},
		Priority:  priority,
		Category:  models.CategoryAdministrative,
		CreatedAt: time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC),
	}
}

// drain collects the events buffered so far without blocking.
func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}
