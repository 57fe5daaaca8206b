// Package notify отправляет пользователям уведомления о выводах.
// Отправка всегда best-effort: вызывающая сторона логирует ошибку и продолжает работу.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ErrCouldNotSend означает, что провайдер не подтвердил отправку.
var ErrCouldNotSend = errors.New("could not send notification")

// Sender отправляет уведомления.
type Sender interface {
	SendRefundNotice(ctx context.Context, destination string, amount decimal.Decimal, currency string) error
}

var (
	_ Sender = (*SendGridSender)(nil)
	_ Sender = (*LogSender)(nil)
)

// SendGridSender отправляет письма через SendGrid API.
type SendGridSender struct {
	client *sendgrid.Client
	from   *mail.Email
}

// NewSendGridSender создаёт отправителя SendGrid.
func NewSendGridSender(apiKey, fromAddress string) *SendGridSender {
	return &SendGridSender{
		client: sendgrid.NewSendClient(apiKey),
		from:   mail.NewEmail("Payouts", fromAddress),
	}
}

// SendRefundNotice сообщает получателю, что средства вывода возвращены на баланс.
func (s *SendGridSender) SendRefundNotice(ctx context.Context, destination string, amount decimal.Decimal, currency string) error {
	const subject = "Your withdrawal was refunded"
	to := mail.NewEmail("", destination)
	plain, html := refundText(amount, currency)

	message := mail.NewSingleEmail(s.from, subject, to, plain, html)
	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: sendgrid status %d", ErrCouldNotSend, resp.StatusCode)
	}
	return nil
}

// LogSender только пишет уведомление в лог. Используется без ключа SendGrid.
type LogSender struct {
	logger logrus.FieldLogger
}

func NewLogSender(logger logrus.FieldLogger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) SendRefundNotice(_ context.Context, destination string, amount decimal.Decimal, currency string) error {
	plain, _ := refundText(amount, currency)
	s.logger.WithField("destination", destination).Info(plain)
	return nil
}

func refundText(amount decimal.Decimal, currency string) (string, string) {
	plain := fmt.Sprintf("Your withdrawal of %s %s could not be completed and the funds were returned to your balance.",
		amount.String(), currency)
	html := fmt.Sprintf("<p>Your withdrawal of <strong>%s %s</strong> could not be completed and the funds were returned to your balance.</p>",
		amount.String(), currency)
	return plain, html
}
