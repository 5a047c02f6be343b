// Package notify defines the outbound notification collaborator. Delivery
// is fire-and-forget for every flow except password-reset initiation, where
// the caller must learn that a committed token could not be delivered.
package notify

import (
	"context"
	"log"
)

// Mailer delivers account-related messages to a user's email address.
type Mailer interface {
	SendWelcome(ctx context.Context, email, firstName string) error
	SendEmailVerification(ctx context.Context, email, verifyToken string) error
	SendPasswordReset(ctx context.Context, email, resetToken string) error
	SendPasswordChanged(ctx context.Context, email string) error
	SendSecurityAlert(ctx context.Context, email, event string) error
}

// LogMailer writes notifications to the process log. It stands in for a real
// delivery backend in development and tests.
type LogMailer struct{}

func NewLogMailer() *LogMailer { return &LogMailer{} }

func (m *LogMailer) SendWelcome(_ context.Context, email, firstName string) error {
	log.Printf("mail: welcome -> %s (name=%s)", email, firstName)
	return nil
}

func (m *LogMailer) SendEmailVerification(_ context.Context, email, verifyToken string) error {
	log.Printf("mail: email verification -> %s (token=%.8s...)", email, verifyToken)
	return nil
}

func (m *LogMailer) SendPasswordReset(_ context.Context, email, resetToken string) error {
	log.Printf("mail: password reset -> %s (token=%.8s...)", email, resetToken)
	return nil
}

func (m *LogMailer) SendPasswordChanged(_ context.Context, email string) error {
	log.Printf("mail: password changed -> %s", email)
	return nil
}

func (m *LogMailer) SendSecurityAlert(_ context.Context, email, event string) error {
	log.Printf("mail: security alert (%s) -> %s", event, email)
	return nil
}
