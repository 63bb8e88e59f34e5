// Package smtp delivers step emails over SMTP with open and click tracking.
package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/leadflow/leadflow/pkg/config"
	"github.com/leadflow/leadflow/pkg/executor"
)

type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// LinkSigner signs click-through targets. Without one, links are sent
// untracked.
type LinkSigner interface {
	SignLink(enrollmentID uuid.UUID, target string) (string, error)
}

type Sender struct {
	dialer          Dialer
	trackingBaseURL string
	links           LinkSigner
	logger          *zap.Logger
}

func NewSender(cfg *config.SMTPConfig, links LinkSigner, logger *zap.Logger) *Sender {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: cfg.Host}
	return NewSenderWithDialer(d, cfg.TrackingBaseURL, links, logger)
}

func NewSenderWithDialer(d Dialer, trackingBaseURL string, links LinkSigner, logger *zap.Logger) *Sender {
	return &Sender{
		dialer:          d,
		trackingBaseURL: strings.TrimRight(trackingBaseURL, "/"),
		links:           links,
		logger:          logger,
	}
}

// SendTrackedEmail sends msg and returns the Message-ID as the external id.
func (s *Sender) SendTrackedEmail(ctx context.Context, msg executor.EmailMessage) (executor.SendResult, error) {
	messageID := fmt.Sprintf("<%s@leadflow>", uuid.NewString())

	m := gomail.NewMessage()
	m.SetAddressHeader("From", msg.FromEmail, msg.FromName)
	m.SetAddressHeader("To", msg.To, msg.ToName)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", messageID)
	m.SetHeader("X-Leadflow-Enrollment", msg.EnrollmentID.String())
	m.SetBody("text/plain", plainBody(msg))
	m.AddAlternative("text/html", s.htmlBody(msg))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.dialer.DialAndSend(m)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return executor.SendResult{}, fmt.Errorf("smtp send: %w", err)
		}
	case <-ctx.Done():
		return executor.SendResult{}, ctx.Err()
	}

	s.logger.Debug("email sent",
		zap.String("enrollment_id", msg.EnrollmentID.String()),
		zap.Int("step", msg.StepNumber),
		zap.String("message_id", messageID),
	)
	return executor.SendResult{Success: true, ExternalID: messageID}, nil
}

func plainBody(msg executor.EmailMessage) string {
	if msg.CallToAction == "" {
		return msg.Body
	}
	return msg.Body + "\n\n" + msg.CallToAction
}

var hrefPattern = regexp.MustCompile(`href="([^"]+)"`)

func (s *Sender) htmlBody(msg executor.EmailMessage) string {
	var b strings.Builder
	for i, para := range strings.Split(msg.Body, "\n\n") {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(html.EscapeString(para), "\n", "<br>"))
		b.WriteString("</p>")
	}
	if cta := msg.CallToAction; cta != "" {
		if strings.HasPrefix(cta, "http://") || strings.HasPrefix(cta, "https://") {
			fmt.Fprintf(&b, "\n<p><a href=\"%s\">%s</a></p>", html.EscapeString(cta), html.EscapeString(cta))
		} else {
			fmt.Fprintf(&b, "\n<p>%s</p>", html.EscapeString(cta))
		}
	}

	body := b.String()
	if s.trackingBaseURL == "" {
		return body
	}

	enrollment := msg.EnrollmentID.String()
	if s.links != nil {
		body = hrefPattern.ReplaceAllStringFunc(body, func(match string) string {
			target := html.UnescapeString(hrefPattern.FindStringSubmatch(match)[1])
			token, err := s.links.SignLink(msg.EnrollmentID, target)
			if err != nil {
				return match
			}
			tracked := fmt.Sprintf("%s/track/click/%s?t=%s", s.trackingBaseURL, enrollment, url.QueryEscape(token))
			return `href="` + html.EscapeString(tracked) + `"`
		})
	}
	pixel := fmt.Sprintf(`<img src="%s/track/open/%s" alt="" width="1" height="1" style="display:none">`,
		s.trackingBaseURL, enrollment)
	return body + "\n" + pixel
}
