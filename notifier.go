package job_runner

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/TimeWtr/job_runner/domain"
	"github.com/cockroachdb/errors"
)

type Notification struct {
	JobID   int64
	To      []string
	Subject string
	Body    string
}

// Notifier 错误通知，由外部系统负责投递
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type SMTPConfig struct {
	Addr     string
	From     string
	Username string
	Password string
}

// SMTPNotifier 通过SMTP发送邮件
type SMTPNotifier struct {
	cfg  SMTPConfig
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPNotifier(cfg SMTPConfig) Notifier {
	n := &SMTPNotifier{cfg: cfg, send: smtp.SendMail}
	if cfg.Username != "" {
		host := cfg.Addr
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		n.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, host)
	}
	return n
}

func (s *SMTPNotifier) Notify(ctx context.Context, n Notification) error {
	if len(n.To) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(n.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", n.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(n.Body)

	if err := s.send(s.cfg.Addr, s.auth, s.cfg.From, n.To, []byte(b.String())); err != nil {
		return errors.Wrapf(err, "send notification for job %d", n.JobID)
	}
	return nil
}

// LogNotifier 未配置SMTP时只记录日志
type LogNotifier struct {
	logger Logger
}

func NewLogNotifier(logger Logger) Notifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	l.logger.Warn("notification", Int64Field("job", n.JobID),
		StringsField("to", n.To), StringField("subject", n.Subject))
	return nil
}

func rescheduleErrorNotification(job domain.Job, cause error) Notification {
	body := fmt.Sprintf("Job %q (id %d) could not be rescheduled.\n\n"+
		"Reschedule type: %s\nInterval: %d %s\nExclude windows: %d\n\nError: %v\n",
		job.Title, job.ID, job.RescheduleType, job.RescheduleInterval,
		job.RescheduleIntervalType, len(job.Excludes), cause)
	return Notification{
		JobID:   job.ID,
		To:      domain.CollectAddresses(&job),
		Subject: "Reschedule error for: " + job.Title,
		Body:    body,
	}
}

func runErrorNotification(job domain.Job, run domain.Run) Notification {
	var returned string
	if run.ReturnDts != nil {
		returned = run.ReturnDts.Format(time.RFC3339)
	}
	body := fmt.Sprintf("Run %d of job %q (id %d) returned with an error.\n\n"+
		"Scheduled: %s\nReturned: %s\n",
		run.ID, job.Title, job.ID, run.ScheduleDts.Format(time.RFC3339), returned)
	return Notification{
		JobID:   job.ID,
		To:      domain.CollectAddresses(&job),
		Subject: "Run error for: " + job.Title,
		Body:    body,
	}
}
