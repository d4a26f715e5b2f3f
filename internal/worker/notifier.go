package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flicky/storefront-api/internal/model"
)

// Notification is a message to a customer about one of their orders.
type Notification struct {
	To      string
	Subject string
	Body    string
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log instead of sending mail.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, msg Notification) error {
	n.log.Info("notification sent", "to", msg.To, "subject", msg.Subject, "body", msg.Body)
	return nil
}

func buildNotification(eventType model.OrderEventType, user *model.User, order *model.Order) (Notification, error) {
	short := order.ID.String()[:8]
	switch eventType {
	case model.OrderEventPlaced:
		return Notification{
			To:      user.Email,
			Subject: fmt.Sprintf("Order %s received", short),
			Body: fmt.Sprintf("Hi %s, we received your order of %d item(s) totalling %s. It will ship to %s.",
				user.FirstName, len(order.Items), order.TotalAmount.StringFixed(2), order.ShippingAddress),
		}, nil
	case model.OrderEventCancelled:
		return Notification{
			To:      user.Email,
			Subject: fmt.Sprintf("Order %s cancelled", short),
			Body:    fmt.Sprintf("Hi %s, your order totalling %s has been cancelled.", user.FirstName, order.TotalAmount.StringFixed(2)),
		}, nil
	default:
		return Notification{}, fmt.Errorf("unknown event type %q", eventType)
	}
}
