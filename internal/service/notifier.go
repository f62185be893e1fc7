package service

import (
	"context"
	"fmt"
	"time"

	"github.com/prperemyshlev/credential-service/internal/domain"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

const mailTimeout = 10 * time.Second

// MailNotifierConfig holds SMTP settings
type MailNotifierConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// MailNotifier sends notifications over SMTP
type MailNotifier struct {
	client *mail.Client
	from   string
	logger *zap.Logger
}

// NewMailNotifier creates an SMTP notifier. Authentication and mandatory TLS are used when a
// username is configured.
func NewMailNotifier(cfg MailNotifierConfig, logger *zap.Logger) (*MailNotifier, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(mailTimeout),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
			mail.WithTLSPolicy(mail.TLSMandatory),
		)
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}

	return &MailNotifier{client: client, from: cfg.From, logger: logger}, nil
}

// SendWelcome tells a new user their client is waiting for approval
func (n *MailNotifier) SendWelcome(ctx context.Context, email string, client *domain.Client) error {
	body := fmt.Sprintf(
		"Welcome!\n\nYour API client %q (%s) has been created and is pending approval.\n"+
			"You will be notified once an administrator has reviewed it.",
		client.Name, client.ClientID,
	)
	return n.send(ctx, email, "Your API client is pending approval", body)
}

// SendClientStatusChanged tells the owner about an admin decision
func (n *MailNotifier) SendClientStatusChanged(ctx context.Context, email string, client *domain.Client) error {
	body := fmt.Sprintf(
		"The status of your API client %q (%s) is now %s.",
		client.Name, client.ClientID, client.Status,
	)
	return n.send(ctx, email, fmt.Sprintf("API client %s", client.Status), body)
}

func (n *MailNotifier) send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(n.from); err != nil {
		return fmt.Errorf("failed to set From address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("failed to set To address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	if err := n.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	n.logger.Debug("Notification sent", zap.String("subject", subject))
	return nil
}

// NoopNotifier implements Notifier but does nothing
type NoopNotifier struct{}

func (NoopNotifier) SendWelcome(context.Context, string, *domain.Client) error { return nil }

func (NoopNotifier) SendClientStatusChanged(context.Context, string, *domain.Client) error {
	return nil
}
