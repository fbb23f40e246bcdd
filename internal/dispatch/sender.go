package dispatch

import (
	"context"
	"fmt"
	"mime"
	"net/mail"
	"net/smtp"
	"strings"

	"github.com/google/uuid"

	"github.com/xxxsen/evote/internal/config"
	appErr "github.com/xxxsen/evote/internal/pkg/errors"
)

type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender delivers one message and returns the message id it was sent with.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

type smtpSender struct {
	cfg      config.MailConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(cfg config.MailConfig) Sender {
	return &smtpSender{cfg: cfg, sendMail: smtp.SendMail}
}

func (s *smtpSender) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	from := strings.TrimSpace(s.cfg.From)
	if s.cfg.Host == "" || s.cfg.Port == 0 || from == "" {
		return "", Permanent(fmt.Errorf("mail sender not configured: %w", appErr.ErrInvalid))
	}
	to, err := mail.ParseAddress(strings.TrimSpace(msg.To))
	if err != nil {
		return "", fmt.Errorf("recipient %q: %w", msg.To, appErr.ErrInvalid)
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	domain := from
	if idx := strings.LastIndex(from, "@"); idx >= 0 {
		domain = from[idx+1:]
	}
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
	sender := (&mail.Address{Name: s.cfg.FromName, Address: from}).String()
	body := []byte("From: " + sender + "\r\n" +
		"To: " + to.String() + "\r\n" +
		"Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject) + "\r\n" +
		"Message-ID: " + messageID + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=UTF-8\r\n" +
		"\r\n" + msg.HTML)
	if err := s.sendMail(addr, auth, from, []string{to.Address}, body); err != nil {
		return "", err
	}
	return messageID, nil
}
