package smtp

import (
	"bytes"
	"context"
	"errors"
	"html"
	"net/url"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/leadflow/leadflow/pkg/auth"
	"github.com/leadflow/leadflow/pkg/executor"
)

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (f *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	f.sent = append(f.sent, m...)
	return f.err
}

func message() executor.EmailMessage {
	return executor.EmailMessage{
		EnrollmentID: uuid.MustParse("6f1c2b1e-8f3a-4b7e-9a51-0c4e0d1a2b3c"),
		StepNumber:   1,
		To:           "ada@example.com",
		ToName:       "Ada",
		FromName:     "Sam",
		FromEmail:    "sam@leadflow.io",
		Subject:      "Quick question",
		Body:         "Hi Ada,\n\nDo you have 10 minutes <this> week?",
		CallToAction: "https://cal.example.com/sam",
	}
}

func TestSendTrackedEmail(t *testing.T) {
	dialer := &fakeDialer{}
	s := NewSenderWithDialer(dialer, "https://t.leadflow.io/", nil, zap.NewNop())

	res, err := s.SendTrackedEmail(context.Background(), message())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.ExternalID, "@leadflow>")

	require.Len(t, dialer.sent, 1)
	m := dialer.sent[0]
	assert.Equal(t, []string{"Quick question"}, m.GetHeader("Subject"))
	assert.Equal(t, []string{res.ExternalID}, m.GetHeader("Message-ID"))

	var buf bytes.Buffer
	_, err = m.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	assert.Contains(t, raw, "X-Leadflow-Enrollment: 6f1c2b1e-8f3a-4b7e-9a51-0c4e0d1a2b3c")
}

var clickPattern = regexp.MustCompile(`href="https://t\.leadflow\.io/track/click/6f1c2b1e-8f3a-4b7e-9a51-0c4e0d1a2b3c\?t=([^"]+)"`)

func TestHTMLBodyTracking(t *testing.T) {
	links := auth.NewTokenManager([]byte("secret"), time.Hour)
	s := NewSenderWithDialer(&fakeDialer{}, "https://t.leadflow.io", links, zap.NewNop())
	body := s.htmlBody(message())

	assert.Contains(t, body, "<p>Do you have 10 minutes &lt;this&gt; week?</p>")
	assert.NotContains(t, body, "url=")
	assert.Contains(t, body, `<img src="https://t.leadflow.io/track/open/6f1c2b1e-8f3a-4b7e-9a51-0c4e0d1a2b3c"`)

	match := clickPattern.FindStringSubmatch(body)
	require.Len(t, match, 2)
	token, err := url.QueryUnescape(html.UnescapeString(match[1]))
	require.NoError(t, err)

	enrollment, target, err := links.VerifyLink(token)
	require.NoError(t, err)
	assert.Equal(t, message().EnrollmentID, enrollment)
	assert.Equal(t, "https://cal.example.com/sam", target)
}

func TestHTMLBodyWithoutSignerKeepsLinks(t *testing.T) {
	s := NewSenderWithDialer(&fakeDialer{}, "https://t.leadflow.io", nil, zap.NewNop())
	body := s.htmlBody(message())

	assert.Contains(t, body, `href="https://cal.example.com/sam"`)
	assert.Contains(t, body, `<img src="https://t.leadflow.io/track/open/`)
}

func TestHTMLBodyWithoutTracking(t *testing.T) {
	s := NewSenderWithDialer(&fakeDialer{}, "", nil, zap.NewNop())
	body := s.htmlBody(message())

	assert.Contains(t, body, `href="https://cal.example.com/sam"`)
	assert.NotContains(t, body, "<img")
}

func TestSendFailure(t *testing.T) {
	s := NewSenderWithDialer(&fakeDialer{err: errors.New("421 try later")}, "", nil, zap.NewNop())

	_, err := s.SendTrackedEmail(context.Background(), message())
	assert.ErrorContains(t, err, "421 try later")
}
