package grocery

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel/codes"
)

type SmtpConfig struct {
	Server       string `json:"server"`
	Port         int    `json:"port"`
	EmailAddress string `json:"email_address"`
	Password     string `json:"password"`
	// where session-expiry alerts go
	OpsAddress string `json:"ops_address"`
}

func (c SmtpConfig) enabled() bool {
	return c.Server != "" && c.OpsAddress != ""
}

// notifySessionExpired alerts the operator that an identity's stored
// session stopped working and needs a fresh bankid login.
func (s Service) notifySessionExpired(ctx context.Context, identity string) error {
	ctx, span := tracer.Start(ctx, "notifySessionExpired")
	defer span.End()

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Matkollen <%s>", s.smtp.EmailAddress)
	mail.To = []string{s.smtp.OpsAddress}
	mail.Subject = "Receipt sync: session expired"

	body := fmt.Sprintf(`The stored portal session for identity %q no longer authenticates.

Receipt sync for this identity is paused until they complete a new BankID login.`, identity)
	mail.Text = []byte(body)

	err := mail.Send(
		fmt.Sprintf("%s:%d", s.smtp.Server, s.smtp.Port),
		smtp.PlainAuth("", s.smtp.EmailAddress, s.smtp.Password, s.smtp.Server),
	)
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(fmt.Sprintf("%s:%d", s.smtp.Server, s.smtp.Port), nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send expiry notification")
		return err
	}
	return nil
}
