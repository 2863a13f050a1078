package subscription

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/mailblog/core/internal/models"
	"github.com/mailblog/core/internal/pkg/dispatch"
	"go.uber.org/zap"
)

// Code classifies an operation outcome for callers that need more than the
// user-facing message.
type Code string

const (
	CodeOK               Code = "ok"
	CodeInvalidEmail     Code = "invalid_email"
	CodeNotFound         Code = "not_found"
	CodeInvalidToken     Code = "invalid_token"
	CodeStoreUnavailable Code = "store_unavailable"
)

// Result is the structured outcome of a subscription operation. Operations
// never panic and never leak infrastructure errors into Message.
type Result struct {
	Code    Code
	Message string
}

func (r Result) OK() bool { return r.Code == CodeOK }

const (
	msgSubscribed   = "Subscription successful"
	msgVerified     = "Subscription verified"
	msgUnsubscribed = "Subscription cancelled"
	msgInvalidEmail = "Invalid email address"
	msgNotFound     = "Unknown email address"
	msgInvalidToken = "Invalid or expired token"
	msgStoreFailure = "Internal server error"
)

// Dispatcher is the notification collaborator. The service only decides
// whether and what to send; delivery is the dispatcher's problem and its
// failures never fail the operation.
type Dispatcher interface {
	Dispatch(ctx context.Context, n dispatch.Notification) error
}

// Service is the subscription state machine. It is stateless: every decision
// is derived from the store, and every token-consuming transition goes
// through a single conditional write.
type Service struct {
	store      Store
	dispatcher Dispatcher
	log        *zap.Logger
}

func NewService(store Store, dispatcher Dispatcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, dispatcher: dispatcher, log: logger.Named("SubscriptionService")}
}

// NormalizeEmail lowercases and trims an address and validates it against the
// standard address grammar. Display names ("Foo <a@b.c>") are rejected.
func NormalizeEmail(raw string) (string, bool) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", false
	}
	return email, true
}

// Subscribe starts (or restarts) the double-opt-in cycle for an email.
//
// The user-facing message is identical on every handled path, including an
// already-confirmed address: the subscribe endpoint must not let a caller
// probe which emails are registered.
func (s *Service) Subscribe(ctx context.Context, rawEmail string) Result {
	email, ok := NormalizeEmail(rawEmail)
	if !ok {
		return Result{Code: CodeInvalidEmail, Message: msgInvalidEmail}
	}

	// A lost conditional write means another request for the same email got
	// there first; one re-read and re-evaluation settles it.
	for attempt := 0; attempt < 2; attempt++ {
		res, retry := s.trySubscribe(ctx, email)
		if !retry {
			return res
		}
	}
	// Both attempts lost the race. Whatever state the record settled in, the
	// answer on this path is the same generic success.
	return Result{Code: CodeOK, Message: msgSubscribed}
}

// trySubscribe performs one pass of the subscribe decision. retry is true
// when a concurrent writer invalidated the state this pass was based on.
func (s *Service) trySubscribe(ctx context.Context, email string) (res Result, retry bool) {
	rec, err := s.store.Get(ctx, email)
	switch {
	case errors.Is(err, ErrNotFound):
		token, err := NewToken()
		if err != nil {
			return s.storeFailure("subscribe", email, err), false
		}
		rec := &models.SubscriptionModel{
			Email:       email,
			Status:      models.StatusPending,
			Token:       token,
			TokenIntent: models.IntentVerify,
		}
		if err := s.store.Create(ctx, rec); err != nil {
			if errors.Is(err, ErrAlreadyExists) {
				return Result{}, true
			}
			return s.storeFailure("subscribe", email, err), false
		}
		s.notify(ctx, dispatch.Notification{Email: email, Kind: dispatch.KindVerify, Token: token})
		return Result{Code: CodeOK, Message: msgSubscribed}, false

	case err != nil:
		return s.storeFailure("subscribe", email, err), false
	}

	switch rec.Status {
	case models.StatusPending:
		// Idempotent surface, fresh token: the previous verify link dies here.
		token, err := NewToken()
		if err != nil {
			return s.storeFailure("subscribe", email, err), false
		}
		err = s.store.UpdateIf(ctx, email,
			Expect{Status: models.StatusPending, Token: rec.Token, Intent: models.IntentVerify},
			Change{Status: models.StatusPending, Token: token, Intent: models.IntentVerify},
		)
		if errors.Is(err, ErrConflict) {
			return Result{}, true
		}
		if err != nil {
			return s.storeFailure("subscribe", email, err), false
		}
		s.notify(ctx, dispatch.Notification{Email: email, Kind: dispatch.KindVerify, Token: token})
		return Result{Code: CodeOK, Message: msgSubscribed}, false

	case models.StatusConfirmed:
		// No state change, no email, and no hint that this address differs
		// from an unknown one.
		return Result{Code: CodeOK, Message: msgSubscribed}, false

	case models.StatusUnsubscribed:
		token, err := NewToken()
		if err != nil {
			return s.storeFailure("subscribe", email, err), false
		}
		err = s.store.UpdateIf(ctx, email,
			Expect{Status: models.StatusUnsubscribed, Token: rec.Token, Intent: rec.TokenIntent},
			Change{Status: models.StatusPending, Token: token, Intent: models.IntentVerify},
		)
		if errors.Is(err, ErrConflict) {
			return Result{}, true
		}
		if err != nil {
			return s.storeFailure("subscribe", email, err), false
		}
		s.notify(ctx, dispatch.Notification{Email: email, Kind: dispatch.KindVerify, Token: token})
		return Result{Code: CodeOK, Message: msgSubscribed}, false
	}

	return s.storeFailure("subscribe", email, errors.New("unknown subscription status")), false
}

// Verify consumes a verify token: pending → confirmed. The consumed token is
// replaced in the same write by a standing unsubscribe token, which rides
// along on the welcome email and on every newsletter until it is consumed.
func (s *Service) Verify(ctx context.Context, rawEmail, token string) Result {
	email, ok := NormalizeEmail(rawEmail)
	if !ok {
		return Result{Code: CodeNotFound, Message: msgNotFound}
	}
	if strings.TrimSpace(token) == "" {
		return Result{Code: CodeInvalidToken, Message: msgInvalidToken}
	}

	if _, err := s.store.Get(ctx, email); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Result{Code: CodeNotFound, Message: msgNotFound}
		}
		return s.storeFailure("verify", email, err)
	}

	unsubToken, err := NewToken()
	if err != nil {
		return s.storeFailure("verify", email, err)
	}

	expect := Expect{Status: models.StatusPending, Token: token, Intent: models.IntentVerify}
	change := Change{Status: models.StatusConfirmed, Token: unsubToken, Intent: models.IntentUnsubscribe}

	err = s.store.UpdateIf(ctx, email, expect, change)
	if errors.Is(err, ErrConflict) {
		err = s.retryConsume(ctx, email, expect, change)
	}
	if errors.Is(err, ErrConflict) {
		// Token already consumed, rotated, or never valid. A duplicate of a
		// successful verify lands here too, so no second welcome email.
		return Result{Code: CodeInvalidToken, Message: msgInvalidToken}
	}
	if err != nil {
		return s.storeFailure("verify", email, err)
	}

	s.notify(ctx, dispatch.Notification{Email: email, Kind: dispatch.KindWelcome, Token: unsubToken})
	return Result{Code: CodeOK, Message: msgVerified}
}

// Unsubscribe consumes a standing unsubscribe token: confirmed → unsubscribed.
func (s *Service) Unsubscribe(ctx context.Context, rawEmail, token string) Result {
	email, ok := NormalizeEmail(rawEmail)
	if !ok {
		return Result{Code: CodeNotFound, Message: msgNotFound}
	}
	if strings.TrimSpace(token) == "" {
		return Result{Code: CodeInvalidToken, Message: msgInvalidToken}
	}

	if _, err := s.store.Get(ctx, email); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Result{Code: CodeNotFound, Message: msgNotFound}
		}
		return s.storeFailure("unsubscribe", email, err)
	}

	expect := Expect{Status: models.StatusConfirmed, Token: token, Intent: models.IntentUnsubscribe}
	change := Change{Status: models.StatusUnsubscribed, Token: "", Intent: models.IntentNone}

	err := s.store.UpdateIf(ctx, email, expect, change)
	if errors.Is(err, ErrConflict) {
		err = s.retryConsume(ctx, email, expect, change)
	}
	if errors.Is(err, ErrConflict) {
		return Result{Code: CodeInvalidToken, Message: msgInvalidToken}
	}
	if err != nil {
		return s.storeFailure("unsubscribe", email, err)
	}

	s.notify(ctx, dispatch.Notification{Email: email, Kind: dispatch.KindGoodbye})
	return Result{Code: CodeOK, Message: msgUnsubscribed}
}

// retryConsume re-reads after a lost conditional write and retries exactly
// once if the expected state is actually still there (a transient miss).
// Otherwise the conflict stands: the token was consumed by someone else.
func (s *Service) retryConsume(ctx context.Context, email string, expect Expect, change Change) error {
	rec, err := s.store.Get(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	if rec.Status != expect.Status || rec.Token != expect.Token || rec.TokenIntent != expect.Intent {
		return ErrConflict
	}
	return s.store.UpdateIf(ctx, email, expect, change)
}

func (s *Service) notify(ctx context.Context, n dispatch.Notification) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Dispatch(ctx, n); err != nil {
		// Best effort: the state transition is already committed.
		s.log.Warn("dispatch failed",
			zap.String("kind", string(n.Kind)),
			zap.String("email", n.Email),
			zap.Error(err))
	}
}

func (s *Service) storeFailure(op, email string, err error) Result {
	s.log.Error("store operation failed",
		zap.String("op", op),
		zap.String("email", email),
		zap.Error(err))
	return Result{Code: CodeStoreUnavailable, Message: msgStoreFailure}
}
