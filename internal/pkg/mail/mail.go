package mail

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"net/smtp"
	"strings"
	"time"
)

// Config holds mail provider settings.
type Config struct {
	Enable    bool   `json:"enable"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	User      string `json:"user"`
	Pass      string `json:"pass"`
	From      string `json:"from"`
	ReplyTo   string `json:"reply_to"`
	UseResend bool   `json:"use_resend"`
	ResendKey string `json:"resend_key"`

	SiteName  string `json:"site_name"`
	SiteOwner string `json:"site_owner"`

	SubjectVerify     string `json:"subject_verify"`
	SubjectWelcome    string `json:"subject_welcome"`
	SubjectGoodbye    string `json:"subject_goodbye"`
	SubjectNewsletter string `json:"subject_newsletter"`
}

// Message is a single email to send.
type Message struct {
	To      []string
	Subject string
	HTML    string
	Text    string
}

// Sender sends emails via SMTP or Resend.
type Sender struct {
	cfg Config
}

func New(cfg Config) *Sender {
	return &Sender{cfg: cfg}
}

// Send dispatches an email. Uses Resend if configured, otherwise SMTP.
func (s *Sender) Send(msg Message) error {
	if !s.cfg.Enable {
		return nil
	}
	if s.cfg.UseResend && s.cfg.ResendKey != "" {
		return s.sendResend(msg)
	}
	return s.sendSMTP(msg)
}

// sendSMTP sends via net/smtp.
func (s *Sender) sendSMTP(msg Message) error {
	host := s.cfg.Host
	port := s.cfg.Port
	if port == 0 {
		port = 587
	}
	addr := fmt.Sprintf("%s:%d", host, port)

	from := s.cfg.From
	if from == "" {
		from = s.cfg.User
	}

	var body bytes.Buffer
	body.WriteString("MIME-Version: 1.0\r\n")
	body.WriteString(fmt.Sprintf("From: %s\r\n", from))
	body.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(msg.To, ", ")))
	body.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	body.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	if s.cfg.ReplyTo != "" {
		body.WriteString(fmt.Sprintf("Reply-To: %s\r\n", s.cfg.ReplyTo))
	}
	body.WriteString("\r\n")
	body.WriteString(msg.HTML)

	auth := smtp.PlainAuth("", s.cfg.User, s.cfg.Pass, host)
	return smtp.SendMail(addr, auth, from, msg.To, body.Bytes())
}

// sendResend sends via the Resend HTTP API.
func (s *Sender) sendResend(msg Message) error {
	from := s.cfg.From
	if from == "" {
		from = s.cfg.User
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"from":    from,
		"to":      msg.To,
		"subject": msg.Subject,
		"html":    msg.HTML,
	})

	req, err := http.NewRequest("POST", "https://api.resend.com/emails", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.ResendKey)
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Message string `json:"message"`
		}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return fmt.Errorf("resend error %d: %s", resp.StatusCode, errResp.Message)
	}
	return nil
}

const verifyTpl = `<!DOCTYPE html>
<html>
<body style="font-family:sans-serif;background:#f5f5f5;padding:20px">
<div style="max-width:600px;margin:0 auto;background:#fff;border-radius:8px;padding:24px">
  <h2 style="color:#333">Confirm your subscription</h2>
  <p>Thanks for subscribing to {{.SiteName}}! Click the button below to confirm your email address:</p>
  <p style="margin-top:24px">
    <a href="{{.VerifyURL}}" style="background:#4f46e5;color:#fff;padding:8px 16px;text-decoration:none;border-radius:4px">Confirm subscription</a>
  </p>
  <p style="color:#999;font-size:12px">If you did not request this, you can safely ignore this email.</p>
</div>
</body>
</html>`

const welcomeTpl = `<!DOCTYPE html>
<html>
<body style="font-family:sans-serif;background:#f5f5f5;padding:20px">
<div style="max-width:600px;margin:0 auto;background:#fff;border-radius:8px;padding:24px">
  <h2 style="color:#333">Welcome aboard</h2>
  <p>Your email address is confirmed. You will now receive new posts from {{.SiteName}} in your inbox.</p>
  <p style="color:#999;font-size:12px;margin-top:24px">
    Don't want these emails? <a href="{{.UnsubscribeURL}}" style="color:#6b7280">Unsubscribe</a>.
  </p>
  <p style="font-size:10px;color:#9ca3af;text-align:center">This email was sent automatically, please do not reply.<br />&copy;{{year}} {{.SiteOwner}}</p>
</div>
</body>
</html>`

const goodbyeTpl = `<!DOCTYPE html>
<html>
<body style="font-family:sans-serif;background:#f5f5f5;padding:20px">
<div style="max-width:600px;margin:0 auto;background:#fff;border-radius:8px;padding:24px">
  <h2 style="color:#333">You are unsubscribed</h2>
  <p>You will no longer receive emails from {{.SiteName}}. Sorry to see you go!</p>
  <p style="color:#999;font-size:12px">Changed your mind? You can subscribe again any time on the site.</p>
</div>
</body>
</html>`

const newsletterTpl = `<!DOCTYPE html>
<html>
<body style="font-family:sans-serif;background:#f5f5f5;padding:20px">
<div style="max-width:600px;margin:0 auto;background:#fff;border-radius:8px;padding:24px">
  <p style="font-size:14px;color:#333">{{.SiteOwner}} just published:</p>
  <h1 style="font-size:20px;text-align:center">{{.Title}}</h1>
  <p style="font-size:14px;line-height:24px;color:#333">{{.Text}}</p>
  {{if .DetailURL}}
  <p style="text-align:center;margin:32px 0">
    <a href="{{.DetailURL}}" target="_blank" style="background:#fb7185;color:#fff;padding:12px 20px;text-decoration:none;border-radius:4px;font-size:12px;font-weight:600">Read the full post</a>
  </p>
  {{end}}
  <hr style="width:100%;border:none;border-top:1px solid #eaeaea" />
  <p style="font-size:10px;color:#9ca3af;text-align:center">
    This email was sent automatically, please do not reply.
    {{if .UnsubscribeURL}}<a href="{{.UnsubscribeURL}}" style="color:#9ca3af">Unsubscribe</a>{{end}}
    <br />&copy;{{year}} {{.SiteOwner}}
  </p>
</div>
</body>
</html>`

// VerifyData is the data for subscription verification emails.
type VerifyData struct {
	VerifyURL string
	SiteName  string
}

// WelcomeData is the data for welcome emails sent after verification.
type WelcomeData struct {
	UnsubscribeURL string
	SiteName       string
	SiteOwner      string
}

// GoodbyeData is the data for unsubscribe confirmation emails.
type GoodbyeData struct {
	SiteName string
}

// NewsletterData is the data for newsletter emails.
type NewsletterData struct {
	Title          string
	Text           string
	DetailURL      string
	UnsubscribeURL string
	SiteOwner      string
}

func renderTemplate(tpl string, data interface{}) (string, error) {
	t, err := template.New("").Funcs(template.FuncMap{
		"year": func() int {
			return time.Now().Year()
		},
	}).Parse(tpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (s *Sender) siteName() string {
	if name := strings.TrimSpace(s.cfg.SiteName); name != "" {
		return name
	}
	return "Mailblog"
}

func (s *Sender) siteOwner() string {
	if owner := strings.TrimSpace(s.cfg.SiteOwner); owner != "" {
		return owner
	}
	return s.siteName()
}

func (s *Sender) subject(override, fallback string) string {
	if v := strings.TrimSpace(override); v != "" {
		return v
	}
	return fallback
}

// SendVerify sends a verification email to a new subscriber.
func (s *Sender) SendVerify(to string, data VerifyData) error {
	if data.SiteName == "" {
		data.SiteName = s.siteName()
	}
	html, err := renderTemplate(verifyTpl, data)
	if err != nil {
		return err
	}
	return s.Send(Message{
		To:      []string{to},
		Subject: s.subject(s.cfg.SubjectVerify, fmt.Sprintf("[%s] Please confirm your subscription", data.SiteName)),
		HTML:    html,
	})
}

// SendWelcome sends a welcome email carrying the standing unsubscribe link.
func (s *Sender) SendWelcome(to string, data WelcomeData) error {
	if data.SiteName == "" {
		data.SiteName = s.siteName()
	}
	if data.SiteOwner == "" {
		data.SiteOwner = s.siteOwner()
	}
	html, err := renderTemplate(welcomeTpl, data)
	if err != nil {
		return err
	}
	return s.Send(Message{
		To:      []string{to},
		Subject: s.subject(s.cfg.SubjectWelcome, fmt.Sprintf("[%s] Subscription confirmed", data.SiteName)),
		HTML:    html,
	})
}

// SendGoodbye sends an unsubscribe confirmation.
func (s *Sender) SendGoodbye(to string, data GoodbyeData) error {
	if data.SiteName == "" {
		data.SiteName = s.siteName()
	}
	html, err := renderTemplate(goodbyeTpl, data)
	if err != nil {
		return err
	}
	return s.Send(Message{
		To:      []string{to},
		Subject: s.subject(s.cfg.SubjectGoodbye, fmt.Sprintf("[%s] You are unsubscribed", data.SiteName)),
		HTML:    html,
	})
}

// SendNewsletter sends a newsletter email for newly published content.
func (s *Sender) SendNewsletter(to string, data NewsletterData) error {
	if data.SiteOwner == "" {
		data.SiteOwner = s.siteOwner()
	}
	html, err := renderTemplate(newsletterTpl, data)
	if err != nil {
		return err
	}
	return s.Send(Message{
		To:      []string{to},
		Subject: s.subject(s.cfg.SubjectNewsletter, fmt.Sprintf("[%s] %s", s.siteName(), data.Title)),
		HTML:    html,
	})
}
