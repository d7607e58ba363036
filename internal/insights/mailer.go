package insights

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"visitrack/internal/config"
)

var (
	ErrMailerNotConfigured = errors.New("smtp host and from address are not configured")
	ErrInvalidRecipient    = errors.New("invalid recipient address")
)

// Message is one email to one recipient. Text and HTML are sent as
// multipart/alternative alternatives.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers a message or reports why it could not.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender delivers through a relay, one connection per message.
type SMTPSender struct {
	host     string
	addr     string
	hello    string
	from     string
	username string
	password string
	logger   *slog.Logger
}

func NewSMTPSender(cfg *config.Config, logger *slog.Logger) *SMTPSender {
	return &SMTPSender{
		host:     cfg.SMTPHost,
		addr:     cfg.SMTPAddr(),
		hello:    cfg.SMTPHello,
		from:     cfg.SMTPFrom,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
		logger:   logger,
	}
}

// Configured reports whether a relay and sender address are set.
func (s *SMTPSender) Configured() bool {
	return s.host != "" && s.from != ""
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if !s.Configured() {
		return ErrMailerNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	from, err := mail.ParseAddress(s.from)
	if err != nil {
		return fmt.Errorf("'from' validation: %w", err)
	}
	to, err := mail.ParseAddress(msg.To)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRecipient, msg.To)
	}

	body, err := buildMessage(from.Address, to.Address, msg, time.Now())
	if err != nil {
		return err
	}

	c, err := s.dial()
	if err != nil {
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("AUTH"); ok && s.username != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.username, s.password)); err != nil {
			return fmt.Errorf("plain auth: %w", err)
		}
	}

	if err := c.SendMail(from.Address, []string{to.Address}, bytes.NewReader(body)); err != nil {
		return fmt.Errorf("message transmission: %w", err)
	}
	if err := c.Quit(); err != nil {
		s.logger.Warn("Failed to close SMTP session", slog.Any("error", err))
	}

	s.logger.Debug("Email delivered",
		slog.String("to", to.Address),
		slog.String("subject", msg.Subject))
	return nil
}

// dial opens a session and greets the relay. Relays that offer STARTTLS are
// redialled through smtp.DialStartTLS, which only upgrades a fresh session.
func (s *SMTPSender) dial() (*smtp.Client, error) {
	c, err := smtp.Dial(s.addr)
	if err != nil {
		return nil, fmt.Errorf("establish connection to server: %w", err)
	}
	if err := c.Hello(s.hello); err != nil {
		c.Close()
		return nil, fmt.Errorf("server handshake: %w", err)
	}
	if ok, _ := c.Extension("STARTTLS"); !ok {
		return c, nil
	}
	if err := c.Quit(); err != nil {
		c.Close()
	}

	c, err = smtp.DialStartTLS(s.addr, &tls.Config{ServerName: s.host})
	if err != nil {
		return nil, fmt.Errorf("starttls: %w", err)
	}
	return c, nil
}

func buildMessage(from, to string, msg Message, date time.Time) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=UTF-8", msg.Text},
		// Preferred alternative goes last.
		{"text/html; charset=UTF-8", msg.HTML},
	}
	for _, p := range parts {
		if p.content == "" {
			continue
		}
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Transfer-Encoding": {"quoted-printable"},
			"Content-Type":              {p.contentType},
		})
		if err != nil {
			return nil, fmt.Errorf("create part: %w", err)
		}
		qw := quotedprintable.NewWriter(w)
		if _, err := qw.Write([]byte(p.content)); err != nil {
			return nil, fmt.Errorf("write part: %w", err)
		}
		if err := qw.Close(); err != nil {
			return nil, fmt.Errorf("close part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "From: %s\r\n", from)
	fmt.Fprintf(&out, "To: %s\r\n", to)
	fmt.Fprintf(&out, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", msg.Subject))
	fmt.Fprintf(&out, "Date: %s\r\n", date.Format(time.RFC1123Z))
	fmt.Fprintf(&out, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&out, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", mw.Boundary())
	out.Write(body.Bytes())
	return out.Bytes(), nil
}
