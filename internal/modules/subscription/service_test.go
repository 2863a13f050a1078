package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mailblog/core/internal/models"
	"github.com/mailblog/core/internal/pkg/dispatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store with the same conditional-write semantics as
// the MySQL one: UpdateIf succeeds for exactly one of two racing writers.
type memStore struct {
	mu   sync.Mutex
	recs map[string]*models.SubscriptionModel

	getErr    error
	createErr error
	updateErr error
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]*models.SubscriptionModel)}
}

func (m *memStore) Get(_ context.Context, email string) (*models.SubscriptionModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	rec, ok := m.recs[email]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memStore) Create(_ context.Context, rec *models.SubscriptionModel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.recs[rec.Email]; ok {
		return ErrAlreadyExists
	}
	cp := *rec
	m.recs[rec.Email] = &cp
	return nil
}

func (m *memStore) UpdateIf(_ context.Context, email string, expect Expect, change Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	rec, ok := m.recs[email]
	if !ok || rec.Status != expect.Status || rec.Token != expect.Token || rec.TokenIntent != expect.Intent {
		return ErrConflict
	}
	rec.Status = change.Status
	rec.Token = change.Token
	rec.TokenIntent = change.Intent
	return nil
}

func (m *memStore) get(t *testing.T, email string) models.SubscriptionModel {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[email]
	require.True(t, ok, "no record for %s", email)
	return *rec
}

// recorder captures dispatched notifications.
type recorder struct {
	mu   sync.Mutex
	sent []dispatch.Notification
	fail error
}

func (r *recorder) Dispatch(_ context.Context, n dispatch.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *recorder) all() []dispatch.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dispatch.Notification(nil), r.sent...)
}

func newTestService() (*Service, *memStore, *recorder) {
	store := newMemStore()
	rec := &recorder{}
	return NewService(store, rec, nil), store, rec
}

func TestNormalizeEmail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{name: "plain", in: "user@example.com", want: "user@example.com", ok: true},
		{name: "uppercase and spaces", in: "  User@Example.COM ", want: "user@example.com", ok: true},
		{name: "plus tag", in: "user+tag@example.com", want: "user+tag@example.com", ok: true},
		{name: "empty", in: "", ok: false},
		{name: "spaces only", in: "   ", ok: false},
		{name: "no at", in: "userexample.com", ok: false},
		{name: "no domain", in: "user@", ok: false},
		{name: "display name", in: "Someone <user@example.com>", ok: false},
		{name: "two addresses", in: "a@example.com, b@example.com", ok: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := NormalizeEmail(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestSubscribeCreatesPending(t *testing.T) {
	t.Parallel()
	svc, store, rec := newTestService()

	res := svc.Subscribe(context.Background(), " User@Example.com ")
	require.Equal(t, CodeOK, res.Code)
	assert.Equal(t, "Subscription successful", res.Message)

	saved := store.get(t, "user@example.com")
	assert.Equal(t, models.StatusPending, saved.Status)
	assert.Equal(t, models.IntentVerify, saved.TokenIntent)
	assert.Len(t, saved.Token, 32)

	sent := rec.all()
	require.Len(t, sent, 1)
	assert.Equal(t, dispatch.KindVerify, sent[0].Kind)
	assert.Equal(t, "user@example.com", sent[0].Email)
	assert.Equal(t, saved.Token, sent[0].Token)
}

func TestSubscribeInvalidEmail(t *testing.T) {
	t.Parallel()
	svc, _, rec := newTestService()

	res := svc.Subscribe(context.Background(), "not-an-email")
	assert.Equal(t, CodeInvalidEmail, res.Code)
	assert.Empty(t, rec.all())
}

func TestSubscribeAgainRotatesToken(t *testing.T) {
	t.Parallel()
	svc, store, rec := newTestService()
	ctx := context.Background()

	require.Equal(t, CodeOK, svc.Subscribe(ctx, "user@example.com").Code)
	first := store.get(t, "user@example.com").Token

	require.Equal(t, CodeOK, svc.Subscribe(ctx, "user@example.com").Code)
	second := store.get(t, "user@example.com").Token

	assert.NotEqual(t, first, second)
	assert.Len(t, rec.all(), 2)

	// The superseded link is dead.
	res := svc.Verify(ctx, "user@example.com", first)
	assert.Equal(t, CodeInvalidToken, res.Code)
	assert.Equal(t, models.StatusPending, store.get(t, "user@example.com").Status)

	// The fresh one works.
	res = svc.Verify(ctx, "user@example.com", second)
	assert.Equal(t, CodeOK, res.Code)
}

func TestSubscribeConfirmedIsSilent(t *testing.T) {
	t.Parallel()
	svc, store, rec := newTestService()
	ctx := context.Background()

	require.Equal(t, CodeOK, svc.Subscribe(ctx, "user@example.com").Code)
	token := store.get(t, "user@example.com").Token
	require.Equal(t, CodeOK, svc.Verify(ctx, "user@example.com", token).Code)

	before := store.get(t, "user@example.com")
	sentBefore := len(rec.all())

	res := svc.Subscribe(ctx, "user@example.com")
	assert.Equal(t, CodeOK, res.Code)
	assert.Equal(t, "Subscription successful", res.Message)

	// No state change and no email for an already-confirmed address.
	assert.Equal(t, before, store.get(t, "user@example.com"))
	assert.Len(t, rec.all(), sentBefore)
}

func TestVerifyLifecycle(t *testing.T) {
	t.Parallel()
	svc, store, rec := newTestService()
	ctx := context.Background()

	require.Equal(t, CodeOK, svc.Subscribe(ctx, "user@example.com").Code)
	verifyToken := store.get(t, "user@example.com").Token

	res := svc.Verify(ctx, "user@example.com", verifyToken)
	require.Equal(t, CodeOK, res.Code)
	assert.Equal(t, "Subscription verified", res.Message)

	saved := store.get(t, "user@example.com")
	assert.Equal(t, models.StatusConfirmed, saved.Status)
	assert.Equal(t, models.IntentUnsubscribe, saved.TokenIntent)
	assert.NotEmpty(t, saved.Token)
	assert.NotEqual(t, verifyToken, saved.Token)

	sent := rec.all()
	require.Len(t, sent, 2)
	assert.Equal(t, dispatch.KindWelcome, sent[1].Kind)
	assert.Equal(t, saved.Token, sent[1].Token)

	// Replaying the consumed verify token fails and sends nothing.
	res = svc.Verify(ctx, "user@example.com", verifyToken)
	assert.Equal(t, CodeInvalidToken, res.Code)
	assert.Len(t, rec.all(), 2)
}

func TestVerifyWrongToken(t *testing.T) {
	t.Parallel()
	svc, store, rec := newTestService()
	ctx := context.Background()

	require.Equal(t, CodeOK, svc.Subscribe(ctx, "user@example.com").Code)
	before := store.get(t, "user@example.com")
	sentBefore := len(rec.all())

	res := svc.Verify(ctx, "user@example.com", "deadbeefdeadbeefdeadbeefdeadbeef")
	assert.Equal(t, CodeInvalidToken, res.Code)
	assert.Equal(t, before, store.get(t, "user@example.com"))
	assert.Len(t, rec.all(), sentBefore)
}

func TestVerifyUnknownEmail(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService()

	res := svc.Verify(context.Background(), "ghost@example.com", "sometoken")
	assert.Equal(t, CodeNotFound, res.Code)
	assert.Equal(t, "Unknown email address", res.Message)
}

func TestVerifyMissingToken(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService()

	res := svc.Verify(context.Background(), "user@example.com", "  ")
	assert.Equal(t, CodeInvalidToken, res.Code)
}

func TestUnsubscribeLifecycle(t *testing.T) {
	t.Parallel()
	svc, store, rec := newTestService()
	ctx := context.Background()

	require.Equal(t, CodeOK, svc.Subscribe(ctx, "user@example.com").Code)
	require.Equal(t, CodeOK, svc.Verify(ctx, "user@example.com", store.get(t, "user@example.com").Token).Code)
	unsubToken := store.get(t, "user@example.com").Token

	res := svc.Unsubscribe(ctx, "user@example.com", unsubToken)
	require.Equal(t, CodeOK, res.Code)
	assert.Equal(t, "Subscription cancelled", res.Message)

	saved := store.get(t, "user@example.com")
	assert.Equal(t, models.StatusUnsubscribed, saved.Status)
	assert.Empty(t, saved.Token)
	assert.Equal(t, models.IntentNone, saved.TokenIntent)

	sent := rec.all()
	require.Len(t, sent, 3)
	assert.Equal(t, dispatch.KindGoodbye, sent[2].Kind)
	assert.Empty(t, sent[2].Token)

	// The consumed token does not work twice.
	res = svc.Unsubscribe(ctx, "user@example.com", unsubToken)
	assert.Equal(t, CodeInvalidToken, res.Code)
	assert.Len(t, rec.all(), 3)
}

func TestUnsubscribeTokenOnlyWorksWhenConfirmed(t *testing.T) {
	t.Parallel()
	svc, store, _ := newTestService()
	ctx := context.Background()

	require.Equal(t, CodeOK, svc.Subscribe(ctx, "user@example.com").Code)
	verifyToken := store.get(t, "user@example.com").Token

	// A verify token is not an unsubscribe token.
	res := svc.Unsubscribe(ctx, "user@example.com", verifyToken)
	assert.Equal(t, CodeInvalidToken, res.Code)
	assert.Equal(t, models.StatusPending, store.get(t, "user@example.com").Status)
}

func TestResubscribeAfterUnsubscribe(t *testing.T) {
	t.Parallel()
	svc, store, _ := newTestService()
	ctx := context.Background()

	require.Equal(t, CodeOK, svc.Subscribe(ctx, "user@example.com").Code)
	require.Equal(t, CodeOK, svc.Verify(ctx, "user@example.com", store.get(t, "user@example.com").Token).Code)
	require.Equal(t, CodeOK, svc.Unsubscribe(ctx, "user@example.com", store.get(t, "user@example.com").Token).Code)

	res := svc.Subscribe(ctx, "user@example.com")
	require.Equal(t, CodeOK, res.Code)

	saved := store.get(t, "user@example.com")
	assert.Equal(t, models.StatusPending, saved.Status)
	assert.Equal(t, models.IntentVerify, saved.TokenIntent)
	assert.NotEmpty(t, saved.Token)

	// And the full cycle works again.
	require.Equal(t, CodeOK, svc.Verify(ctx, "user@example.com", saved.Token).Code)
	assert.Equal(t, models.StatusConfirmed, store.get(t, "user@example.com").Status)
}

func TestConcurrentVerifyHasOneWinner(t *testing.T) {
	t.Parallel()
	svc, store, rec := newTestService()
	ctx := context.Background()

	require.Equal(t, CodeOK, svc.Subscribe(ctx, "user@example.com").Code)
	token := store.get(t, "user@example.com").Token

	const racers = 8
	results := make([]Result, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.Verify(ctx, "user@example.com", token)
		}(i)
	}
	wg.Wait()

	var wins, losses int
	for _, res := range results {
		switch res.Code {
		case CodeOK:
			wins++
		case CodeInvalidToken:
			losses++
		default:
			t.Fatalf("unexpected outcome %q", res.Code)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, racers-1, losses)

	// Exactly one welcome email behind the one winning transition.
	var welcomes int
	for _, n := range rec.all() {
		if n.Kind == dispatch.KindWelcome {
			welcomes++
		}
	}
	assert.Equal(t, 1, welcomes)
	assert.Equal(t, models.StatusConfirmed, store.get(t, "user@example.com").Status)
}

func TestDispatchFailureDoesNotFailOperation(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	rec := &recorder{fail: errors.New("queue down")}
	svc := NewService(store, rec, nil)

	res := svc.Subscribe(context.Background(), "user@example.com")
	assert.Equal(t, CodeOK, res.Code)
	assert.Equal(t, models.StatusPending, store.get(t, "user@example.com").Status)
}

func TestStoreFailureIsGeneric(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	store.getErr = errors.New("connection refused")
	svc := NewService(store, &recorder{}, nil)

	res := svc.Subscribe(context.Background(), "user@example.com")
	assert.Equal(t, CodeStoreUnavailable, res.Code)
	assert.Equal(t, "Internal server error", res.Message)
}

func TestVerifyEmailIsNormalized(t *testing.T) {
	t.Parallel()
	svc, store, _ := newTestService()
	ctx := context.Background()

	require.Equal(t, CodeOK, svc.Subscribe(ctx, "user@example.com").Code)
	token := store.get(t, "user@example.com").Token

	res := svc.Verify(ctx, " USER@Example.COM ", token)
	assert.Equal(t, CodeOK, res.Code)
}
