// Package email sends the permanent-failure notification over plain
// SMTP. Relay auth and TLS are the deployment's concern (the service
// talks to a local relay).
package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"
)

type SMTPNotifier struct {
	addr   string
	from   string
	logger *zap.Logger
}

func NewSMTPNotifier(host string, port int, from string, logger *zap.Logger) *SMTPNotifier {
	return &SMTPNotifier{
		addr:   fmt.Sprintf("%s:%d", host, port),
		from:   from,
		logger: logger,
	}
}

func (n *SMTPNotifier) NotifyFailure(_ context.Context, userEmail, jobID, mediaKey, errorMsg string) error {
	subject := fmt.Sprintf("Songlift - Playlist Extraction Failed [Job %s]", jobID)

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.from)
	fmt.Fprintf(&b, "To: %s\r\n", userEmail)
	fmt.Fprintf(&b, "Subject: %s\r\n\r\n", subject)
	b.WriteString("Hello,\r\n\r\n")
	b.WriteString("Your playlist extraction job has permanently failed after all retry attempts.\r\n\r\n")
	fmt.Fprintf(&b, "Job ID: %s\r\n", jobID)
	fmt.Fprintf(&b, "Media: %s\r\n", mediaKey)
	fmt.Fprintf(&b, "Error: %s\r\n\r\n", errorMsg)
	b.WriteString("Please try submitting your playlist again or contact support.\r\n\r\n")
	b.WriteString("-- Songlift Extraction Service")

	if err := smtp.SendMail(n.addr, nil, n.from, []string{userEmail}, []byte(b.String())); err != nil {
		n.logger.Error("failure notification not delivered",
			zap.String("to", userEmail),
			zap.String("job_id", jobID),
			zap.Error(err),
		)
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("failure notification sent",
		zap.String("to", userEmail),
		zap.String("job_id", jobID),
	)
	return nil
}
