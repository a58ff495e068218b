package config

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"portalbridge/internal/components/chrono"
	"portalbridge/internal/components/telemetry"

	"dario.cat/mergo"
)

var ErrPlaceholderCredentials = errors.New("placeholder credentials have not been edited")

type SMTP struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
	// one of "starttls", "tls" or "plain"
	Security string `json:"security" yaml:"security"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

type Mail struct {
	SMTP SMTP   `json:"smtp" yaml:"smtp"`
	From string `json:"from" yaml:"from"`
	// parents receiving notifications
	Recipients []string `json:"recipients" yaml:"recipients"`
	// receives error summaries and intake alerts
	Admin        string `json:"admin" yaml:"admin"`
	DelaySeconds int    `json:"delay_seconds" yaml:"delay_seconds"`
	// domain used for synthetic Message-IDs
	Domain string `json:"domain" yaml:"domain"`
}

type Gmail struct {
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`
	TokenFile       string `json:"token_file" yaml:"token_file"`
	User            string `json:"user" yaml:"user"`
	Label           string `json:"label" yaml:"label"`
	PollSeconds     int    `json:"poll_seconds" yaml:"poll_seconds"`
}

type Intake struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// base address of the reverse route, replies are sent to base+<tag>@domain
	Route string `json:"route" yaml:"route"`
	// senders allowed to post into the portal
	Allow []string `json:"allow" yaml:"allow"`
	// maximum number of characters of a single portal message
	Capacity int   `json:"capacity" yaml:"capacity"`
	Gmail    Gmail `json:"gmail" yaml:"gmail"`
}

type Portal struct {
	BaseUrl  string `json:"base_url" yaml:"base_url"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	// requests per second toward the portal
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`
	// send the portal read confirmation after an announcement was mailed
	ConfirmAnnouncements bool `json:"confirm_announcements" yaml:"confirm_announcements"`
}

type Calendar struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Url     string `json:"url" yaml:"url"`
}

type Board struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Url     string `json:"url" yaml:"url"`
}

type Schedule struct {
	IntervalSeconds int `json:"interval_seconds" yaml:"interval_seconds"`
	// optional standard cron expression, adds wakes on top of the interval
	Cron              string `json:"cron" yaml:"cron"`
	BackoffMaxSeconds int    `json:"backoff_max_seconds" yaml:"backoff_max_seconds"`
	HealthySeconds    int    `json:"healthy_seconds" yaml:"healthy_seconds"`
}

type Diff struct {
	GraceDays     int `json:"grace_days" yaml:"grace_days"`
	LookaheadDays int `json:"lookahead_days" yaml:"lookahead_days"`
}

type Ledger struct {
	// path, file://, sqlite://, libsql://, https:// or postgres://
	DSN       string `json:"dsn" yaml:"dsn"`
	AuthToken string `json:"auth_token" yaml:"auth_token"`
}

type Config struct {
	Debug     bool             `json:"debug" yaml:"debug"`
	Timezone  string           `json:"timezone" yaml:"timezone"`
	Ledger    Ledger           `json:"ledger" yaml:"ledger"`
	Mail      Mail             `json:"mail" yaml:"mail"`
	Intake    Intake           `json:"intake" yaml:"intake"`
	Portal    Portal           `json:"portal" yaml:"portal"`
	Calendar  Calendar         `json:"calendar" yaml:"calendar"`
	Board     Board            `json:"board" yaml:"board"`
	Schedule  Schedule         `json:"schedule" yaml:"schedule"`
	Diff      Diff             `json:"diff" yaml:"diff"`
	Telemetry telemetry.Config `json:"telemetry" yaml:"telemetry"`
}

var defaults = Config{
	Ledger: Ledger{DSN: "ledger.json"},
	Mail: Mail{
		SMTP:         SMTP{Port: 587, Security: "starttls"},
		DelaySeconds: 2,
		Domain:       "portalbridge.local",
	},
	Intake: Intake{
		Capacity: 2000,
		Gmail: Gmail{
			User:        "me",
			Label:       "portalbridge-processed",
			PollSeconds: 30,
		},
	},
	Portal: Portal{RateLimit: 2},
	Schedule: Schedule{
		IntervalSeconds:   10 * 60,
		BackoffMaxSeconds: 60 * 60,
		HealthySeconds:    30 * 60,
	},
	Diff: Diff{GraceDays: 2, LookaheadDays: 14},
}

// WithDefaults fills every zero field with its default value.
func (c Config) WithDefaults() (Config, error) {
	err := mergo.Merge(&c, defaults)
	return c, err
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (s Schedule) Interval() time.Duration   { return seconds(s.IntervalSeconds) }
func (s Schedule) BackoffMax() time.Duration { return seconds(s.BackoffMaxSeconds) }
func (s Schedule) Healthy() time.Duration    { return seconds(s.HealthySeconds) }
func (m Mail) Delay() time.Duration          { return seconds(m.DelaySeconds) }
func (g Gmail) Poll() time.Duration          { return seconds(g.PollSeconds) }

var placeholders = []string{
	"changeme",
	"change-me",
	"change_me",
	"password",
	"your-password",
	"your-username",
	"example@example.com",
}

// IsPlaceholder reports whether a credential value was left at one of the
// values shipped in the sample configuration.
func IsPlaceholder(value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return false
	}
	if strings.HasPrefix(v, "<") && strings.HasSuffix(v, ">") {
		return true
	}
	for _, p := range placeholders {
		if v == p {
			return true
		}
	}
	return false
}

func checkAddress(field, value string) error {
	if _, err := mail.ParseAddress(value); err != nil {
		return fmt.Errorf("%s: invalid address %q: %w", field, value, err)
	}
	return nil
}

// Validate checks a defaulted config. An error wrapping
// ErrPlaceholderCredentials means the sample credentials were never edited.
func (c Config) Validate() error {
	var errs []error

	credentials := map[string]string{
		"portal.username":    c.Portal.Username,
		"portal.password":    c.Portal.Password,
		"mail.smtp.username": c.Mail.SMTP.Username,
		"mail.smtp.password": c.Mail.SMTP.Password,
	}
	for field, value := range credentials {
		if IsPlaceholder(value) {
			errs = append(errs, fmt.Errorf("%s: %w", field, ErrPlaceholderCredentials))
		}
	}

	if c.Portal.BaseUrl == "" {
		errs = append(errs, errors.New("portal.base_url: required"))
	}
	if c.Mail.SMTP.Host == "" {
		errs = append(errs, errors.New("mail.smtp.host: required"))
	}
	switch c.Mail.SMTP.Security {
	case "starttls", "tls", "plain":
	default:
		errs = append(errs, fmt.Errorf("mail.smtp.security: unknown mode %q", c.Mail.SMTP.Security))
	}
	if err := checkAddress("mail.from", c.Mail.From); err != nil {
		errs = append(errs, err)
	}
	if c.Mail.Admin != "" {
		if err := checkAddress("mail.admin", c.Mail.Admin); err != nil {
			errs = append(errs, err)
		}
	}
	if len(c.Mail.Recipients) == 0 {
		errs = append(errs, errors.New("mail.recipients: at least one recipient is required"))
	}
	for _, r := range c.Mail.Recipients {
		if err := checkAddress("mail.recipients", r); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Intake.Enabled {
		if c.Intake.Route != "" {
			if err := checkAddress("intake.route", c.Intake.Route); err != nil {
				errs = append(errs, err)
			}
		}
		if c.Intake.Capacity <= len("[99/99] ") {
			errs = append(errs, fmt.Errorf("intake.capacity: %d is too small", c.Intake.Capacity))
		}
	}
	if c.Calendar.Enabled && c.Calendar.Url == "" {
		errs = append(errs, errors.New("calendar.url: required when the calendar is enabled"))
	}
	if c.Board.Enabled && c.Board.Url == "" {
		errs = append(errs, errors.New("board.url: required when the board is enabled"))
	}
	if c.Schedule.Cron != "" {
		if err := chrono.ValidateSpec(c.Schedule.Cron); err != nil {
			errs = append(errs, fmt.Errorf("schedule.cron: %w", err))
		}
	}
	if c.Timezone != "" {
		if _, err := chrono.NewStandardTime(c.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("timezone: %w", err))
		}
	}
	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
