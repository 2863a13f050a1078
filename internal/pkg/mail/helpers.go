package mail

import (
	"github.com/mailblog/core/internal/config"
)

// BuildMailConfig maps the application's mail settings onto the sender config.
func BuildMailConfig(cfg *config.AppConfig) Config {
	if cfg == nil {
		return Config{}
	}
	mc := Config{
		Enable:  cfg.Mail.Enable,
		From:    cfg.Mail.From,
		ReplyTo: cfg.Mail.ReplyTo,
		Host:    cfg.Mail.SMTP.Host,
		Port:    cfg.Mail.SMTP.Port,
		User:    cfg.Mail.SMTP.User,
		Pass:    cfg.Mail.SMTP.Pass,

		SiteName:  cfg.Mail.Site.Name,
		SiteOwner: cfg.Mail.Site.Owner,

		SubjectVerify:     cfg.Mail.Subject.Verify,
		SubjectWelcome:    cfg.Mail.Subject.Welcome,
		SubjectGoodbye:    cfg.Mail.Subject.Goodbye,
		SubjectNewsletter: cfg.Mail.Subject.Newsletter,
	}
	if cfg.Mail.Resend.APIKey != "" {
		mc.UseResend = true
		mc.ResendKey = cfg.Mail.Resend.APIKey
	}
	return mc
}
