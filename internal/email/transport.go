package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"companion/internal/config"
	"companion/internal/types"
)

// Transport submits one composed email and classifies the result.
// Production code uses SMTPTransport; tests substitute a fake.
type Transport interface {
	Send(ctx context.Context, entry *types.EmailQueueEntry) (types.SendOutcome, error)
}

// SMTPTransport delivers email over SMTP with STARTTLS on the submission
// port. A process-local gobreaker fronts the durable database breaker: it
// fast-fails within this process the moment the server starts timing out,
// without waiting for the shared state to be re-read.
type SMTPTransport struct {
	cfg     config.EmailConfig
	breaker *gobreaker.CircuitBreaker[struct{}]
	dialer  *net.Dialer
}

var _ Transport = (*SMTPTransport)(nil)

// NewSMTPTransport creates a transport for the configured SMTP submission
// endpoint.
func NewSMTPTransport(cfg config.EmailConfig) *SMTPTransport {
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "smtp",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			// Recipient rejections mean the server is healthy; only transport
			// level failures should trip the local breaker.
			return err == nil || classify(err) == types.SendPermanent
		},
	})
	return &SMTPTransport{
		cfg:     cfg,
		breaker: cb,
		dialer:  &net.Dialer{Timeout: 15 * time.Second},
	}
}

// Send submits the entry and maps the result onto the ok/transient/permanent
// outcome vocabulary. Breaker-open short-circuits are transient: the mail
// stays queued and is retried once the breaker lets traffic through again.
func (t *SMTPTransport) Send(ctx context.Context, entry *types.EmailQueueEntry) (types.SendOutcome, error) {
	_, err := t.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, t.submit(ctx, entry)
	})
	if err == nil {
		return types.SendOK, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.SendTransient, types.NewAppError(types.ErrCodeBreakerOpen,
			"smtp circuit breaker open", err)
	}
	return classify(err), err
}

// submit performs the actual SMTP conversation: dial, STARTTLS, AUTH PLAIN,
// MAIL/RCPT/DATA, QUIT.
func (t *SMTPTransport) submit(ctx context.Context, entry *types.EmailQueueEntry) error {
	addr := fmt.Sprintf("%s:%d", t.cfg.SMTPServer, t.cfg.SMTPPort)

	conn, err := t.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("email: failed to dial %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, t.cfg.SMTPServer)
	if err != nil {
		conn.Close()
		return fmt.Errorf("email: smtp handshake with %s failed: %w", addr, err)
	}
	defer client.Close()

	if err := client.StartTLS(&tls.Config{ServerName: t.cfg.SMTPServer}); err != nil {
		return fmt.Errorf("email: STARTTLS failed: %w", err)
	}

	auth := smtp.PlainAuth("", t.cfg.SystemEmail, t.cfg.SystemPassword.Unmask(), t.cfg.SMTPServer)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("email: smtp auth failed: %w", err)
	}

	if err := client.Mail(t.cfg.SystemEmail); err != nil {
		return fmt.Errorf("email: MAIL FROM rejected: %w", err)
	}
	if err := client.Rcpt(entry.To); err != nil {
		return fmt.Errorf("email: RCPT TO rejected: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("email: DATA rejected: %w", err)
	}
	if _, err := w.Write(t.buildMessage(entry)); err != nil {
		w.Close()
		return fmt.Errorf("email: failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("email: message not accepted: %w", err)
	}

	return client.Quit()
}

// buildMessage assembles a multipart/alternative MIME message with text and
// HTML parts.
func (t *SMTPTransport) buildMessage(entry *types.EmailQueueEntry) []byte {
	const boundary = "companion-alt-7f3a9c"

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s <%s>\r\n",
		mime.QEncoding.Encode("utf-8", t.cfg.FromName), t.cfg.SystemEmail)
	fmt.Fprintf(&b, "To: %s\r\n", entry.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", entry.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n", boundary)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(entry.BodyText)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	b.WriteString(entry.BodyHTML)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return []byte(b.String())
}

// permanentRcptCodes are SMTP reply codes meaning the mailbox itself is
// unusable. Everything else 5xx-class (policy rejections, size limits,
// greylisting quirks) is treated as transient so a misclassification delays
// mail rather than silently invalidating an address.
var permanentRcptCodes = map[int]bool{
	550: true, // mailbox unavailable
	551: true, // user not local
	553: true, // mailbox name not allowed
}

// classify maps SMTP and network errors onto the outcome vocabulary.
func classify(err error) types.SendOutcome {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case types.ErrCodeEmailInvalidRecipient:
			return types.SendPermanent
		case types.ErrCodeBreakerOpen, types.ErrCodeUpstreamSMTP, types.ErrCodeUpstreamThrottled:
			return types.SendTransient
		}
	}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		if permanentRcptCodes[protoErr.Code] {
			return types.SendPermanent
		}
		return types.SendTransient
	}

	// Dial failures, timeouts, TLS errors: all retryable.
	return types.SendTransient
}
