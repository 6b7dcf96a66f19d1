package email

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/qs3c/ledger_go_server/config"
)

type Service struct {
	cfg  *config.EmailConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewService(cfg *config.EmailConfig) *Service {
	return &Service{cfg: cfg, send: smtp.SendMail}
}

// SendOperatorAlert 发送运维告警邮件
func (s *Service) SendOperatorAlert(to, subject, body string) error {
	if to == "" {
		return fmt.Errorf("operator email not configured")
	}
	return s.sendPlain(to, "[账户服务告警] "+subject, body)
}

// sendPlain 发送纯文本邮件
func (s *Service) sendPlain(to, subject, body string) error {
	headers := [][2]string{
		{"From", s.cfg.From},
		{"To", to},
		{"Subject", subject},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/plain; charset=UTF-8"},
	}

	var msg strings.Builder
	for _, h := range headers {
		msg.WriteString(fmt.Sprintf("%s: %s\r\n", h[0], h[1]))
	}
	msg.WriteString("\r\n")
	msg.WriteString(body)

	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.SMTPHost)
	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)

	return s.send(addr, auth, s.cfg.From, []string{to}, []byte(msg.String()))
}
