package smtp

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/otp-auth-service/internal/config"
)

// Mailer sends emails.
type Mailer interface {
	SendEmail(to, subject, body string) error
}

// DefaultOTPTemplate is used when a tenant has no template configured.
// {{code}} and {{minutes}} are substituted at send time.
const DefaultOTPTemplate = "Your verification code is {{code}}. It expires in {{minutes}} minutes."

// RenderOTPBody fills an OTP email template.
func RenderOTPBody(template, code string, minutes int) string {
	if template == "" {
		template = DefaultOTPTemplate
	}
	body := strings.ReplaceAll(template, "{{code}}", code)
	return strings.ReplaceAll(body, "{{minutes}}", fmt.Sprintf("%d", minutes))
}

type mailer struct {
	host     string
	port     string
	from     string
	username string
	password string
}

func NewMailer(cfg *config.Config) Mailer {
	return &mailer{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		from:     cfg.SMTPFrom,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
	}
}

func (m *mailer) SendEmail(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", m.from, to, subject, body)
	addr := fmt.Sprintf("%s:%s", m.host, m.port)

	var auth smtp.Auth
	if m.username != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	return smtp.SendMail(addr, auth, m.from, []string{to}, []byte(msg))
}
