// Package notify sends transactional lifecycle emails.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	log "github.com/sirupsen/logrus"
)

// Message is one outbound email.
type Message struct {
	ToEmail   string
	ToName    string
	Subject   string
	HTMLBody  string
	PlainBody string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SendGridSender delivers through the SendGrid v3 API.
type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
}

// NewSendGridSender constructs a SendGrid sender.
func NewSendGridSender(apiKey, fromEmail, fromName string) *SendGridSender {
	return &SendGridSender{
		client:    sendgrid.NewSendClient(apiKey),
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

// Send delivers msg.
func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(msg.ToName, msg.ToEmail)
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.PlainBody, msg.HTMLBody)

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("notify: sendgrid: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("notify: sendgrid returned status %d", response.StatusCode)
	}
	return nil
}

// LogSender writes messages to the log instead of sending them.
type LogSender struct{}

// Send logs msg.
func (LogSender) Send(_ context.Context, msg Message) error {
	log.WithFields(log.Fields{
		"to":      msg.ToEmail,
		"subject": msg.Subject,
	}).Info("email not sent (no sendgrid key configured)")
	return nil
}

// Notifier renders lifecycle emails and hands them to a Sender.
type Notifier struct {
	sender  Sender
	baseURL string
}

// New constructs a Notifier. A blank apiKey selects LogSender.
func New(apiKey, fromEmail, fromName, baseURL string) *Notifier {
	var sender Sender = LogSender{}
	if strings.TrimSpace(apiKey) != "" {
		sender = NewSendGridSender(apiKey, fromEmail, fromName)
	}
	return NewWithSender(sender, baseURL)
}

// NewWithSender constructs a Notifier around an existing Sender.
func NewWithSender(sender Sender, baseURL string) *Notifier {
	if sender == nil {
		sender = LogSender{}
	}
	return &Notifier{sender: sender, baseURL: strings.TrimRight(baseURL, "/")}
}

// TrialStarted tells the user their trial is running.
func (n *Notifier) TrialStarted(ctx context.Context, email string, expiresAt time.Time, limit int) error {
	if n == nil {
		return nil
	}
	day := expiresAt.UTC().Format("January 2, 2006")
	subject := "Your CaseDesk trial has started"
	plain := fmt.Sprintf("Welcome to CaseDesk. Your trial runs until %s and includes up to %d clients, cases and documents each.\n\nOpen CaseDesk: %s", day, limit, n.baseURL)
	html := fmt.Sprintf(`<p>Welcome to CaseDesk.</p>
<p>Your trial runs until <strong>%s</strong> and includes up to %d clients, cases and documents each.</p>
<p><a href="%s">Open CaseDesk</a></p>`, day, limit, n.baseURL)
	return n.sender.Send(ctx, Message{ToEmail: email, Subject: subject, HTMLBody: html, PlainBody: plain})
}

// SubscriptionActivated tells the user their paid plan is active.
func (n *Notifier) SubscriptionActivated(ctx context.Context, email, plan string) error {
	if n == nil {
		return nil
	}
	if plan == "" {
		plan = "paid"
	}
	billingURL := n.baseURL + "/settings/billing"
	subject := "Your CaseDesk subscription is active"
	plain := fmt.Sprintf("Your trial has ended and your %s subscription is now active. Manage billing: %s", plan, billingURL)
	html := fmt.Sprintf(`<p>Your trial has ended and your <strong>%s</strong> subscription is now active.</p>
<p><a href="%s">Manage billing</a></p>`, plan, billingURL)
	return n.sender.Send(ctx, Message{ToEmail: email, Subject: subject, HTMLBody: html, PlainBody: plain})
}

// SubscriptionEnded tells the user their account is now read-only.
func (n *Notifier) SubscriptionEnded(ctx context.Context, email string) error {
	if n == nil {
		return nil
	}
	billingURL := n.baseURL + "/settings/billing"
	subject := "Your CaseDesk subscription has ended"
	plain := fmt.Sprintf("Your subscription has ended. Your data is kept but new records cannot be created. Resubscribe: %s", billingURL)
	html := fmt.Sprintf(`<p>Your subscription has ended. Your data is kept but new records cannot be created.</p>
<p><a href="%s">Resubscribe</a></p>`, billingURL)
	return n.sender.Send(ctx, Message{ToEmail: email, Subject: subject, HTMLBody: html, PlainBody: plain})
}
