// Package notify delivers overdue permit alerts to external destinations.
// Destinations are go-pkgz/notify URLs: mailto:, slack:, telegram: and http(s):// webhooks.
// Each destination gets its own delivery with retries; destinations are sent in parallel.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"text/template"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/notify"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/go-pkgz/syncs"

	"github.com/umputun/permits/app/permit"
)

const defaultOverdueTemplate = `{{.Job.RiskType.Label}} permit overdue: {{.Job.Department}} / {{.Job.Point}}
requester: {{if .Job.Requester}}{{.Job.Requester}}{{else}}-{{end}}
control: {{if .Job.Control}}{{.Job.Control}}{{else}}-{{end}}
started: {{.Job.StartedAtISO}}, open for {{.Open}} (threshold {{.Threshold}}m)
host: {{.Host}}
`

// Params configures the notification service
type Params struct {
	Destinations  []string      // notify destinations, i.e. "slack:#safety" or "mailto:hse@example.com"
	SlackToken    string        // required for slack: destinations
	TelegramToken string        // required for telegram: destinations
	SMTP          SMTPParams    // required for mailto: destinations
	Timeout       time.Duration // per delivery attempt
	Retries       int           // delivery attempts per destination
	RetryDelay    time.Duration // initial backoff delay
	Concurrency   int           // parallel deliveries
	Host          string        // host name shown in messages
	TemplateFile  string        // optional custom text/template for overdue messages
}

// SMTPParams holds email server settings
type SMTPParams struct {
	Host     string
	Port     int
	Username string
	Password string
	TLS      bool
	From     string
}

// overdueData is passed to the overdue message template
type overdueData struct {
	Job       permit.Job
	Threshold int
	Open      time.Duration
	Host      string
}

// Service sends messages to all configured destinations
type Service struct {
	destinations []string
	notifiers    []notify.Notifier
	rptr         *repeater.Repeater
	timeout      time.Duration
	concurrency  int
	host         string
	fromEmail    string
	tmpl         *template.Template
}

// NewService makes the notification service. Returns nil service without error if no destinations configured.
func NewService(p Params) (*Service, error) {
	if len(p.Destinations) == 0 {
		return nil, nil //nolint:nilnil // notifications are optional
	}

	notifiers, err := makeNotifiers(p)
	if err != nil {
		return nil, err
	}

	tmpl, err := loadTemplate(p.TemplateFile)
	if err != nil {
		return nil, err
	}

	retries, delay := p.Retries, p.RetryDelay
	if retries <= 0 {
		retries = 1
	}
	if delay <= 0 {
		delay = time.Second
	}
	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Service{
		destinations: p.Destinations,
		notifiers:    notifiers,
		rptr:         repeater.New(&strategy.Backoff{Repeats: retries, Duration: delay, Factor: 2, Jitter: true}),
		timeout:      timeout,
		concurrency:  concurrency,
		host:         p.Host,
		fromEmail:    p.SMTP.From,
		tmpl:         tmpl,
	}, nil
}

// makeNotifiers creates a sender for every schema used by destinations
func makeNotifiers(p Params) ([]notify.Notifier, error) {
	schemas := map[string]bool{}
	for _, d := range p.Destinations {
		u, err := url.Parse(d)
		if err != nil || u.Scheme == "" {
			return nil, fmt.Errorf("invalid notification destination %q", d)
		}
		schemas[u.Scheme] = true
	}

	res := []notify.Notifier{}
	for schema := range schemas {
		switch schema {
		case "mailto":
			if p.SMTP.Host == "" {
				return nil, errors.New("smtp host is required for mailto destinations")
			}
			res = append(res, notify.NewEmail(notify.SMTPParams{
				Host:        p.SMTP.Host,
				Port:        p.SMTP.Port,
				TLS:         p.SMTP.TLS,
				ContentType: "text/plain",
				Charset:     "UTF-8",
				Username:    p.SMTP.Username,
				Password:    p.SMTP.Password,
				TimeOut:     p.Timeout,
			}))
		case "slack":
			if p.SlackToken == "" {
				return nil, errors.New("slack token is required for slack destinations")
			}
			res = append(res, notify.NewSlack(p.SlackToken))
		case "telegram":
			if p.TelegramToken == "" {
				return nil, errors.New("telegram token is required for telegram destinations")
			}
			tg, err := notify.NewTelegram(notify.TelegramParams{Token: p.TelegramToken, Timeout: p.Timeout})
			if err != nil {
				return nil, fmt.Errorf("failed to make telegram notifier: %w", err)
			}
			res = append(res, tg)
		case "http", "https":
			if hasSchema(res, "http") {
				continue
			}
			res = append(res, notify.NewWebhook(notify.WebhookParams{Timeout: p.Timeout,
				Headers: []string{"Content-Type:text/plain; charset=utf-8"}}))
		default:
			return nil, fmt.Errorf("unsupported notification schema %q", schema)
		}
	}
	return res, nil
}

func hasSchema(notifiers []notify.Notifier, schema string) bool {
	for _, n := range notifiers {
		if n.Schema() == schema {
			return true
		}
	}
	return false
}

func loadTemplate(fname string) (*template.Template, error) {
	if fname == "" {
		return template.Must(template.New("overdue").Parse(defaultOverdueTemplate)), nil
	}
	data, err := os.ReadFile(fname) //nolint:gosec // template path from config
	if err != nil {
		return nil, fmt.Errorf("can't read template %s: %w", fname, err)
	}
	tmpl, err := template.New("overdue").Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("can't parse template %s: %w", fname, err)
	}
	return tmpl, nil
}

// MakeOverdueText renders the message for an overdue job
func (s *Service) MakeOverdueText(job permit.Job, threshold int, now time.Time) (string, error) {
	data := overdueData{Job: job, Threshold: threshold, Host: s.host}
	if started, ok := job.StartedAt(); ok {
		data.Open = now.Sub(started).Truncate(time.Minute)
	}
	buf := bytes.Buffer{}
	if err := s.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to apply template: %w", err)
	}
	return buf.String(), nil
}

// NotifyOverdue sends the overdue alert for a job to all destinations
func (s *Service) NotifyOverdue(ctx context.Context, job permit.Job, threshold int, now time.Time) error {
	text, err := s.MakeOverdueText(job, threshold, now)
	if err != nil {
		return err
	}
	subj := fmt.Sprintf("overdue %s permit %s/%s", job.RiskType, job.Department, job.Point)
	return s.Send(ctx, subj, text)
}

// Send delivers the message to every destination. Email destinations get the subject as a header,
// the others get it as the first line of the text.
func (s *Service) Send(ctx context.Context, subj, text string) error {
	gr := syncs.NewErrSizedGroup(s.concurrency)
	for _, dest := range s.destinations {
		gr.Go(func() error {
			d, msg := s.prepare(dest, subj, text)
			err := s.rptr.Do(ctx, func() error {
				sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
				defer cancel()
				return notify.Send(sendCtx, s.notifiers, d, msg)
			})
			if err != nil {
				log.Printf("[WARN] failed to send notification to %s: %v", redact(dest), err)
				return fmt.Errorf("send to %s: %w", redact(dest), err)
			}
			log.Printf("[DEBUG] notification %q sent to %s", subj, redact(dest))
			return nil
		})
	}
	return gr.Wait()
}

// prepare makes the final destination and message for a destination schema
func (s *Service) prepare(dest, subj, text string) (destination, msg string) {
	if !strings.HasPrefix(dest, "mailto:") {
		return dest, subj + "\n" + text
	}
	q := url.Values{}
	q.Set("subject", subj)
	if s.fromEmail != "" && !strings.Contains(dest, "from=") {
		q.Set("from", s.fromEmail)
	}
	sep := "?"
	if strings.Contains(dest, "?") {
		sep = "&"
	}
	return dest + sep + q.Encode(), text
}

// String returns the list of destinations without credentials
func (s *Service) String() string {
	res := make([]string, 0, len(s.destinations))
	for _, d := range s.destinations {
		res = append(res, redact(d))
	}
	return strings.Join(res, ", ")
}

// redact removes user info and query from URLs for logging
func redact(dest string) string {
	u, err := url.Parse(dest)
	if err != nil {
		return "invalid"
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}
