package push

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/edvart/mazechase/internal/events"
)

// Notifier listens to domain events and sends push notifications.
type Notifier struct {
	service *Service
	log     logrus.FieldLogger
}

func NewNotifier(service *Service, log logrus.FieldLogger) *Notifier {
	return &Notifier{
		service: service,
		log:     log,
	}
}

// Run consumes events until ctx is done or the channel is closed.
func (n *Notifier) Run(ctx context.Context, ch <-chan events.Event) {
	n.log.Info("Push notifier started")
	defer n.log.Info("Push notifier stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			n.handleEvent(ctx, event)
		}
	}
}

func (n *Notifier) handleEvent(ctx context.Context, event events.Event) {
	switch e := event.(type) {
	case events.PersonalBest:
		n.handlePersonalBest(ctx, e)
	}
}

func (n *Notifier) handlePersonalBest(ctx context.Context, e events.PersonalBest) {
	payload := PersonalBestPayload(e)
	if err := n.service.SendToUser(ctx, e.UserID, payload); err != nil {
		n.log.WithError(err).WithField("user_id", e.UserID).Warn("Failed to send personal best notification")
	}
}

// PersonalBestPayload builds the notification for a new personal best.
func PersonalBestPayload(e events.PersonalBest) NotificationPayload {
	var body string
	switch {
	case e.HighestScore > 0 && e.HighestLevel > 0:
		body = fmt.Sprintf("New high score %d and level %d!", e.HighestScore, e.HighestLevel)
	case e.HighestScore > 0:
		body = fmt.Sprintf("New high score: %d", e.HighestScore)
	default:
		body = fmt.Sprintf("New highest level: %d", e.HighestLevel)
	}

	return NotificationPayload{
		Title: "Personal best!",
		Body:  body,
		Icon:  "/static/favicon.ico",
		Badge: "/static/favicon.ico",
		Tag:   "personal-best",
		Data: map[string]any{
			"url": "/leaderboard",
		},
	}
}
