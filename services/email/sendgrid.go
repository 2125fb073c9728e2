package emailsvc

import (
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/amboseli-lewis/sms/core"
)

var (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"

	// a rejected delivery (429 or 5xx) is tried again after retryDelay, 2*retryDelay, ...
	sendgridAttempts   = 3
	sendgridRetryDelay = 2 * time.Second
)

// sendgridService delivers the school notifications (term started, promotion undone) through SendGrid.
type sendgridService struct {
	apiKey string
	sender *sgmail.Email
	prefix string
	logger core.Logger
}

var _ core.EmailService = (*sendgridService)(nil)

func NewSendgridService(conf *core.Config, logger core.Logger) *sendgridService {
	return &sendgridService{
		apiKey: conf.SendgridApiKey,
		sender: sgmail.NewEmail(conf.DefaultFromEmail.Name, conf.DefaultFromEmail.Address),
		prefix: "[" + conf.AppName + "] ",
		logger: logger,
	}
}

// NewService picks SendGrid when an API key is configured and the console otherwise.
func NewService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.SendgridApiKey == "" {
		return NewConsoleService(conf, logger)
	}
	return NewSendgridService(conf, logger)
}

func (svc *sendgridService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		go func(msg *core.EmailMessage) {
			if err := svc.deliver(msg); err != nil {
				svc.logger.Error(fmt.Sprintf("delivering email %q: %v", msg.Subject, err), err)
			}
		}(msg)
	}
}

// deliver renders msg and posts it; messages without recipients or content are dropped.
func (svc *sendgridService) deliver(msg *core.EmailMessage) error {
	if err := msg.Render(); err != nil {
		return errors.Wrapf(err, "rendering template %q", msg.TemplateName)
	}
	if !msg.HasRecipients() || !(msg.HasContent() || msg.HasAttachments()) {
		return nil
	}
	return svc.post(sgmail.GetRequestBody(newSGMail(svc.sender, svc.prefix+msg.Subject, msg)))
}

func (svc *sendgridService) post(body []byte) error {
	var lastErr error
	for attempt := 0; attempt < sendgridAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * sendgridRetryDelay)
		}

		req := sendgrid.GetRequest(svc.apiKey, sendgridEndpoint, sendgridHost)
		req.Method = http.MethodPost
		req.Body = body
		res, err := sendgrid.API(req)
		switch {
		case err != nil:
			lastErr = errors.Wrap(err, "calling sendgrid")
		case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= http.StatusInternalServerError:
			lastErr = errors.Errorf("sendgrid status %d: %s", res.StatusCode, res.Body)
		case res.StatusCode >= http.StatusBadRequest:
			return errors.Errorf("sendgrid rejected the message, status %d: %s", res.StatusCode, res.Body)
		default:
			return nil
		}
	}
	return errors.Wrapf(lastErr, "giving up after %d attempts", sendgridAttempts)
}

// newSGMail converts msg into a SendGrid v3 message. The template name is sent as category.
func newSGMail(from *sgmail.Email, subject string, msg *core.EmailMessage) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = subject
	for _, addr := range msg.To {
		p.AddTos(sgmail.NewEmail(addr.Name, addr.Address))
	}
	for _, addr := range msg.Cc {
		p.AddCCs(sgmail.NewEmail(addr.Name, addr.Address))
	}
	for _, addr := range msg.Bcc {
		p.AddBCCs(sgmail.NewEmail(addr.Name, addr.Address))
	}

	m := sgmail.NewV3Mail()
	m.SetFrom(from)
	m.AddPersonalizations(p)
	if msg.TemplateName != "" {
		m.AddCategories(msg.TemplateName)
	}

	// text/plain must come first
	m.AddContent(sgmail.NewContent("text/plain", msg.TextContent))
	if msg.HTMLContent != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTMLContent))
	}

	for _, at := range msg.Attachments {
		a := sgmail.NewAttachment()
		a.SetContent(at.Content.String()) // already base64
		a.SetType(at.ContentType)
		a.SetFilename(at.Filename)
		a.SetDisposition("attachment")
		m.AddAttachment(a)
	}
	return m
}
