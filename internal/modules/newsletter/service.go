// Package newsletter broadcasts published content to confirmed subscribers.
package newsletter

import (
	"context"

	"github.com/mailblog/core/internal/models"
	"github.com/mailblog/core/internal/modules/subscription"
	"github.com/mailblog/core/internal/pkg/dispatch"
	"go.uber.org/zap"
)

// Broadcast is one newsletter issue to fan out.
type Broadcast struct {
	Title     string
	Text      string
	DetailURL string
}

// SubscriberSource yields the recipients of a broadcast.
type SubscriberSource interface {
	Confirmed(ctx context.Context) ([]models.SubscriptionModel, error)
}

type Service struct {
	store      SubscriberSource
	dispatcher subscription.Dispatcher
	log        *zap.Logger
}

func NewService(store SubscriberSource, dispatcher subscription.Dispatcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, dispatcher: dispatcher, log: logger.Named("NewsletterService")}
}

// Send enqueues one newsletter email per confirmed subscriber, each carrying
// that subscriber's standing unsubscribe token. Enqueue failures are counted
// and logged but do not abort the fan-out.
func (s *Service) Send(ctx context.Context, b Broadcast) (queued int, err error) {
	subs, err := s.store.Confirmed(ctx)
	if err != nil {
		return 0, err
	}

	for _, sub := range subs {
		n := dispatch.Notification{
			Email:     sub.Email,
			Kind:      dispatch.KindNewsletter,
			Token:     sub.Token,
			Title:     b.Title,
			Text:      b.Text,
			DetailURL: b.DetailURL,
		}
		if err := s.dispatcher.Dispatch(ctx, n); err != nil {
			s.log.Warn("newsletter enqueue failed",
				zap.String("email", sub.Email),
				zap.Error(err))
			continue
		}
		queued++
	}

	s.log.Info("newsletter queued",
		zap.String("title", b.Title),
		zap.Int("recipients", queued),
		zap.Int("subscribers", len(subs)))
	return queued, nil
}
