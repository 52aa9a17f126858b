package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"log"
	"net/smtp"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Mailer handles sending emails
type Mailer struct {
	config Config
}

// New creates a new Mailer instance
func New(cfg Config) *Mailer {
	return &Mailer{config: cfg}
}

// SendNotification sends a notification email rendered from the standard
// template
func (m *Mailer) SendNotification(toEmail, title, body, category string) error {
	html, err := m.renderNotificationTemplate(title, body, category)
	if err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}
	return m.send(toEmail, "Fixly - "+title, html)
}

// send delivers an email via SMTP
func (m *Mailer) send(to, subject, htmlBody string) error {
	addr := fmt.Sprintf("%s:%s", m.config.Host, m.config.Port)

	headers := map[string]string{
		"From":         fmt.Sprintf("%s <%s>", m.config.FromName, m.config.From),
		"To":           to,
		"Subject":      subject,
		"MIME-Version": "1.0",
		"Content-Type": "text/html; charset=\"utf-8\"",
	}

	var msg bytes.Buffer
	for k, v := range headers {
		msg.WriteString(fmt.Sprintf("%s: %s\r\n", k, v))
	}
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)

	var auth smtp.Auth
	if m.config.Username != "" && m.config.Password != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	}

	err := smtp.SendMail(addr, auth, m.config.From, []string{to}, msg.Bytes())
	if err != nil {
		log.Printf("❌ Failed to send email to %s: %v", to, err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	log.Printf("📧 Email sent to %s: %s", to, subject)
	return nil
}

// renderNotificationTemplate returns the HTML body for a notification email
func (m *Mailer) renderNotificationTemplate(title, body, category string) (string, error) {
	tmpl := `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="margin:0;padding:0;background-color:#0f172a;font-family:'Segoe UI',Tahoma,Geneva,Verdana,sans-serif;">
    <div style="max-width:500px;margin:40px auto;background:linear-gradient(135deg,#1e293b 0%,#0f766e 100%);border-radius:16px;overflow:hidden;border:1px solid rgba(45,212,191,0.2);">
        <!-- Header -->
        <div style="background:linear-gradient(135deg,#0d9488 0%,#14b8a6 100%);padding:32px;text-align:center;">
            <h1 style="color:#fff;margin:0;font-size:28px;font-weight:700;">🛠️ Fixly</h1>
            <p style="color:rgba(255,255,255,0.85);margin:8px 0 0;font-size:14px;">{{.Category}}</p>
        </div>

        <!-- Body -->
        <div style="padding:32px;">
            <h2 style="color:#e2e8f0;font-size:20px;margin:0 0 16px;">{{.Title}}</h2>
            <p style="color:#94a3b8;font-size:14px;line-height:1.6;margin:0 0 24px;">{{.Body}}</p>
            <p style="color:#64748b;font-size:13px;line-height:1.5;margin:0;">
                You can change which emails you receive in your notification settings.
            </p>
        </div>

        <!-- Footer -->
        <div style="padding:16px 32px;border-top:1px solid rgba(45,212,191,0.1);text-align:center;">
            <p style="color:#475569;font-size:12px;margin:0;">© 2026 Fixly. All rights reserved.</p>
        </div>
    </div>
</body>
</html>`

	t, err := template.New("notification").Parse(tmpl)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	err = t.Execute(&buf, map[string]interface{}{
		"Title":    title,
		"Body":     body,
		"Category": category,
	})
	return buf.String(), err
}
