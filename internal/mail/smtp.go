package mail

import (
	"context"
	"fmt"
	"strings"

	gomail "github.com/wneessen/go-mail"

	"github.com/cankoe/reminder-scheduler/internal/dispatcher"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	TLS      string // "mandatory", "opportunistic" or "none"
}

// SMTPTransport implements dispatcher.Transport over SMTP.
// A client is created per message so concurrent sends never share a connection.
type SMTPTransport struct {
	cfg Config
}

func NewSMTPTransport(cfg Config) *SMTPTransport {
	return &SMTPTransport{cfg: cfg}
}

func (t *SMTPTransport) Send(ctx context.Context, msg dispatcher.Message) error {
	m, err := buildMsg(t.cfg.From, msg)
	if err != nil {
		return err
	}

	client, err := gomail.NewClient(t.cfg.Host, t.clientOptions()...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}

// Ping dials the SMTP server and closes the connection.
func (t *SMTPTransport) Ping(ctx context.Context) error {
	client, err := gomail.NewClient(t.cfg.Host, t.clientOptions()...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialWithContext(ctx); err != nil {
		return fmt.Errorf("smtp dial %s:%d: %w", t.cfg.Host, t.cfg.Port, err)
	}
	return client.Close()
}

func (t *SMTPTransport) clientOptions() []gomail.Option {
	opts := []gomail.Option{
		gomail.WithPort(t.cfg.Port),
		gomail.WithTLSPolicy(tlsPolicy(t.cfg.TLS)),
	}
	if t.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(t.cfg.Username),
			gomail.WithPassword(t.cfg.Password),
		)
	}
	return opts
}

func tlsPolicy(s string) gomail.TLSPolicy {
	switch strings.ToLower(s) {
	case "mandatory":
		return gomail.TLSMandatory
	case "none":
		return gomail.NoTLS
	default:
		return gomail.TLSOpportunistic
	}
}

func buildMsg(from string, msg dispatcher.Message) (*gomail.Msg, error) {
	m := gomail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", from, err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		m.AddAlternativeString(gomail.TypeTextHTML, msg.HTML)
	}
	return m, nil
}
