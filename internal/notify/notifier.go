// Package notify delivers security notifications (MFA codes, escalation
// alerts) over email, sms and push transports.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/pkg/logger"
)

// ErrNoRoute is returned when no transport is registered for a channel
var ErrNoRoute = errors.New("no notifier registered for channel")

// Message is one notification to one contact address
type Message struct {
	To      string
	Channel models.NotificationChannel
	Subject string
	Body    string
}

// Notifier delivers a message. Callers treat failure as non-fatal.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(ctx context.Context, msg Message) error

func (f NotifierFunc) Notify(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Router dispatches messages to the notifier registered for their channel
type Router struct {
	routes map[models.NotificationChannel]Notifier
}

// NewRouter creates an empty Router
func NewRouter() *Router {
	return &Router{routes: make(map[models.NotificationChannel]Notifier)}
}

// Handle registers n for channel, replacing any previous registration
func (r *Router) Handle(channel models.NotificationChannel, n Notifier) *Router {
	r.routes[channel] = n
	return r
}

func (r *Router) Notify(ctx context.Context, msg Message) error {
	n, ok := r.routes[msg.Channel]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoRoute, msg.Channel)
	}
	return n.Notify(ctx, msg)
}

// LogNotifier writes notifications to the log instead of delivering them.
// It stands in for transports that are not configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, msg Message) error {
	n.logger.InfoContext(ctx, "notification (log transport)",
		slog.String("channel", string(msg.Channel)),
		slog.String("to", logger.SanitizedContact(msg.To)),
		slog.String("subject", msg.Subject),
	)
	return nil
}
