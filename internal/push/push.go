// Package push delivers web push notifications to players.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/sirupsen/logrus"

	"github.com/edvart/mazechase/internal/apperr"
	"github.com/edvart/mazechase/internal/metrics"
	"github.com/edvart/mazechase/internal/store"
)

// ErrDisabled is returned when VAPID keys are not configured.
var ErrDisabled = errors.New("push notifications are not configured")

type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string // mailto:your-email@example.com
}

type Service struct {
	store   store.Store
	cfg     Config
	log     logrus.FieldLogger
	metrics *metrics.Manager
	client  webpush.HTTPClient
	now     func() time.Time
}

func NewService(st store.Store, cfg Config, log logrus.FieldLogger, m *metrics.Manager) *Service {
	return &Service{
		store:   st,
		cfg:     cfg,
		log:     log,
		metrics: m,
		client:  &http.Client{Timeout: 10 * time.Second},
		now:     time.Now,
	}
}

// WithHTTPClient replaces the client used to reach push services.
func (s *Service) WithHTTPClient(c webpush.HTTPClient) *Service {
	s.client = c
	return s
}

type NotificationPayload struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Icon  string         `json:"icon,omitempty"`
	Badge string         `json:"badge,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
	Tag   string         `json:"tag,omitempty"`
}

// Enabled reports whether both VAPID keys are set.
func (s *Service) Enabled() bool {
	return s.cfg.VAPIDPublicKey != "" && s.cfg.VAPIDPrivateKey != ""
}

// PublicKey returns the VAPID public key for frontend use.
func (s *Service) PublicKey() string {
	return s.cfg.VAPIDPublicKey
}

// Subscribe stores a browser subscription for userID. Re-subscribing the
// same endpoint replaces its keys.
func (s *Service) Subscribe(ctx context.Context, userID, endpoint, p256dh, auth string) error {
	const op = "push.Subscribe"
	if !s.Enabled() {
		return apperr.Unavailable(op, ErrDisabled)
	}
	if !strings.HasPrefix(endpoint, "https://") && !strings.HasPrefix(endpoint, "http://") {
		return apperr.Validation(op, "endpoint must be an http(s) URL")
	}
	if p256dh == "" || auth == "" {
		return apperr.Validation(op, "subscription keys are required")
	}

	err := s.store.SavePushSubscription(ctx, &store.PushSubscription{
		UserID:    userID,
		Endpoint:  endpoint,
		P256dh:    p256dh,
		Auth:      auth,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return apperr.Unavailable(op, err)
	}
	s.log.WithField("user_id", userID).Info("Push subscription saved")
	return nil
}

// Unsubscribe removes a subscription by endpoint.
func (s *Service) Unsubscribe(ctx context.Context, endpoint string) error {
	const op = "push.Unsubscribe"
	if !s.Enabled() {
		return apperr.Unavailable(op, ErrDisabled)
	}
	if endpoint == "" {
		return apperr.Validation(op, "endpoint is required")
	}
	if err := s.store.DeletePushSubscription(ctx, endpoint); err != nil {
		return apperr.Unavailable(op, err)
	}
	return nil
}

// SendToUser sends a push notification to all subscriptions for a specific user.
// Subscriptions the push service reports as gone are removed.
func (s *Service) SendToUser(ctx context.Context, userID string, payload NotificationPayload) error {
	if !s.Enabled() {
		return ErrDisabled
	}

	subs, err := s.store.GetPushSubscriptions(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get subscriptions: %w", err)
	}

	log := s.log.WithField("user_id", userID)
	if len(subs) == 0 {
		log.Debug("No push subscriptions found")
		return nil
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	var lastErr error
	successCount := 0

	for _, sub := range subs {
		status, err := s.send(ctx, payloadBytes, sub)
		if err != nil {
			log.WithError(err).WithField("endpoint", sub.Endpoint).Warn("Failed to send push")
			s.metrics.PushSent("error")
			lastErr = err
			continue
		}

		switch {
		case status == http.StatusGone || status == http.StatusNotFound:
			log.WithField("endpoint", sub.Endpoint).Info("Subscription expired, removing")
			s.metrics.PushSent("expired")
			if err := s.store.DeletePushSubscription(ctx, sub.Endpoint); err != nil {
				log.WithError(err).Warn("Failed to delete subscription")
			}
		case status < 200 || status >= 300:
			s.metrics.PushSent("rejected")
			lastErr = fmt.Errorf("push failed with status %d", status)
		default:
			s.metrics.PushSent("sent")
			successCount++
		}
	}

	if successCount > 0 || lastErr == nil {
		return nil
	}
	return lastErr
}

func (s *Service) send(ctx context.Context, payload []byte, sub store.PushSubscription) (int, error) {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.cfg.VAPIDSubject,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		TTL:             60,
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
