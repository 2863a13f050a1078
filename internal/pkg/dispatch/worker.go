package dispatch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mailblog/core/internal/pkg/mail"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const popTimeout = 5 * time.Second

// Worker drains the dispatch queue and sends emails through the mailer.
type Worker struct {
	q       *Queue
	sender  *mail.Sender
	baseURL string
	log     *zap.Logger
}

func NewWorker(q *Queue, sender *mail.Sender, baseURL string, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		q:       q,
		sender:  sender,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     logger.Named("DispatchWorker"),
	}
}

// Run blocks until ctx is cancelled, processing queued notifications one at a
// time. Send failures mark the task failed; they are never retried here.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := w.q.rc.Raw().BRPop(ctx, popTimeout, keyQueue).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Warn("queue pop failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		// BRPop returns [key, value].
		if len(res) != 2 {
			continue
		}
		w.process(ctx, res[1])
	}
}

func (w *Worker) process(ctx context.Context, taskID string) {
	task, err := w.q.GetByID(ctx, taskID)
	if err != nil || task == nil {
		w.log.Warn("task lookup failed", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	if task.Status != TaskPending {
		return
	}

	if err := w.q.updateStatus(ctx, task, TaskSending, ""); err != nil {
		w.log.Warn("task status update failed", zap.String("task_id", task.ID), zap.Error(err))
	}

	if err := w.send(task.Notification); err != nil {
		w.log.Warn("send failed",
			zap.String("task_id", task.ID),
			zap.String("kind", string(task.Notification.Kind)),
			zap.String("email", task.Notification.Email),
			zap.Error(err))
		_ = w.q.updateStatus(ctx, task, TaskFailed, err.Error())
		return
	}

	_ = w.q.updateStatus(ctx, task, TaskSent, "")
	w.log.Info("sent",
		zap.String("kind", string(task.Notification.Kind)),
		zap.String("email", task.Notification.Email))
}

func (w *Worker) send(n Notification) error {
	switch n.Kind {
	case KindVerify:
		link, err := w.actionURL("/verify", n.Email, n.Token)
		if err != nil {
			return err
		}
		return w.sender.SendVerify(n.Email, mail.VerifyData{VerifyURL: link})
	case KindWelcome:
		link, err := w.actionURL("/unsubscribe", n.Email, n.Token)
		if err != nil {
			return err
		}
		return w.sender.SendWelcome(n.Email, mail.WelcomeData{UnsubscribeURL: link})
	case KindGoodbye:
		return w.sender.SendGoodbye(n.Email, mail.GoodbyeData{})
	case KindNewsletter:
		link := ""
		if n.Token != "" {
			var err error
			link, err = w.actionURL("/unsubscribe", n.Email, n.Token)
			if err != nil {
				return err
			}
		}
		return w.sender.SendNewsletter(n.Email, mail.NewsletterData{
			Title:          n.Title,
			Text:           n.Text,
			DetailURL:      n.DetailURL,
			UnsubscribeURL: link,
		})
	default:
		return fmt.Errorf("unknown notification kind %q", n.Kind)
	}
}

// actionURL builds a tokenized link like {base}/verify?email=...&token=...
func (w *Worker) actionURL(path, email, token string) (string, error) {
	if w.baseURL == "" {
		return "", fmt.Errorf("base_url is not configured")
	}
	u, err := url.Parse(w.baseURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid base_url %q", w.baseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	q := u.Query()
	q.Set("email", email)
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
