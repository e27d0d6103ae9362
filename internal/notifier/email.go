package notifier

import (
	"fmt"

	gomail "gopkg.in/gomail.v2"

	"github.com/arrow3/storefront/internal/config"
	"github.com/arrow3/storefront/internal/orders"
)

type EmailSender struct {
	cfg config.SMTP
}

func NewEmailSender(cfg config.SMTP) *EmailSender {
	return &EmailSender{cfg: cfg}
}

func (s *EmailSender) SendStatusUpdate(p orders.StatusChangedPayload) error {
	html, text, err := renderStatusMail(statusMailData{
		CustomerName:      p.CustomerName,
		OrderID:           p.OrderID,
		From:              string(p.From),
		To:                string(p.To),
		EstimatedDelivery: formatDelivery(p.EstimatedDelivery),
		Notes:             p.Notes,
	})
	if err != nil {
		return fmt.Errorf("render mail: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", p.CustomerEmail)
	m.SetHeader("Subject", fmt.Sprintf("Your Arrow3 order is %s", p.To))
	m.SetBody("text/plain", text)
	m.AddAlternative("text/html", html)

	d := gomail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.User, s.cfg.Password)
	d.SSL = true
	return d.DialAndSend(m)
}
