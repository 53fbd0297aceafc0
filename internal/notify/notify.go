package notify

import (
	"context"
	"errors"

	"portalchat/internal/models"
)

// Notifier delivers a notification to a user.
type Notifier interface {
	Notify(ctx context.Context, userID string, n models.Notification) error
}

// Multi delivers through every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, userID string, n models.Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, userID, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
