package intake

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"portalbridge/internal/components/assert"
	"portalbridge/internal/components/telemetry"
	"portalbridge/internal/task"
)

const (
	report_fetch        = "processor.fetch"
	report_mark         = "processor.mark"
	report_unauthorized = "processor.unauthorized"
)

type ProcessorOptions struct {
	// Route is the base address of the reverse route, intake is disabled
	// when it is empty and every message is flagged without forwarding.
	Route string
	// Allow lists the senders that may post into the portal.
	Allow []string
	// Capacity is the maximum length of a single portal message in runes.
	Capacity int
	// Admin receives alerts about rejected messages.
	Admin string
}

// Result is the outcome of one poll.
type Result struct {
	Posts  []Post
	Alerts []task.Task
	// Ignored counts messages flagged without forwarding.
	Ignored int
}

// Processor turns inbound messages into portal posts.
type Processor struct {
	mailbox  Mailbox
	tel      telemetry.API
	route    *Address
	allow    map[string]bool
	capacity int
	admin    string

	mu       sync.Mutex
	inflight map[string]bool
}

func NewProcessor(mailbox Mailbox, tel telemetry.API, opts ProcessorOptions) (*Processor, error) {
	assert.NotNil(mailbox)
	assert.NotNil(tel)
	assert.Positive(opts.Capacity, "capacity")

	p := &Processor{
		mailbox:  mailbox,
		tel:      tel,
		allow:    map[string]bool{},
		capacity: opts.Capacity,
		admin:    opts.Admin,
		inflight: map[string]bool{},
	}
	if opts.Route != "" {
		route, err := ParseAddress(opts.Route)
		if err != nil {
			return nil, fmt.Errorf("route: %w", err)
		}
		p.route = &route
	}
	for _, a := range opts.Allow {
		addr, err := ParseAddress(a)
		if err != nil {
			return nil, fmt.Errorf("allow list: %w", err)
		}
		p.allow[addr.Base()] = true
	}
	return p, nil
}

// ReplyTo returns the reverse-route address of a portal thread, empty when
// intake has no route.
func (p *Processor) ReplyTo(threadID string) string {
	if p.route == nil {
		return ""
	}
	return p.route.WithTag(ThreadTag(threadID))
}

func (p *Processor) release(ref string) {
	p.mu.Lock()
	delete(p.inflight, ref)
	p.mu.Unlock()
}

func (p *Processor) claimed(ref string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inflight[ref]
}

func (p *Processor) claim(ref string) {
	p.mu.Lock()
	p.inflight[ref] = true
	p.mu.Unlock()
}

// targets returns the destinations of every recipient addressed to the
// route, in recipient order and without duplicates.
func (p *Processor) targets(recipients []string) []Target {
	var out []Target
	seen := map[string]bool{}
	for _, r := range recipients {
		addr, err := ParseAddress(r)
		if err != nil || !addr.Routes(*p.route) {
			continue
		}
		if seen[addr.Tag] {
			continue
		}
		seen[addr.Tag] = true
		out = append(out, ParseTag(addr.Tag))
	}
	return out
}

func (p *Processor) authorized(from string) bool {
	addr, err := ParseAddress(from)
	if err != nil {
		return false
	}
	return p.allow[addr.Base()]
}

func (p *Processor) alert(res *Result, subject, text string) {
	if p.admin == "" {
		return
	}
	res.Alerts = append(res.Alerts, task.Alert(p.admin, subject, text))
}

// Poll fetches every unprocessed message and decides its fate:
//   - no route configured, or no recipient addressed to the route: flagged
//     processed and ignored
//   - sender not allowed: an admin alert, flagged processed and dropped
//   - otherwise: one post per routed recipient, flagged processed later by
//     Deliver
//
// Messages whose posts are still pending from an earlier poll are skipped.
func (p *Processor) Poll(ctx context.Context) (Result, error) {
	var res Result
	messages, err := p.mailbox.Fetch(ctx)
	if err != nil {
		p.tel.ReportBroken(report_fetch, err)
		return res, fmt.Errorf("fetch: %w", err)
	}

	var errs []error
	ignore := func(m Inbound) {
		res.Ignored++
		err := p.mailbox.MarkProcessed(ctx, m.Ref)
		if err != nil {
			p.tel.ReportBroken(report_mark, err, "ref", m.Ref)
			errs = append(errs, fmt.Errorf("flag %s: %w", m.Ref, err))
		}
	}

	for _, m := range messages {
		if p.claimed(m.Ref) {
			continue
		}
		if p.route == nil {
			ignore(m)
			continue
		}

		targets := p.targets(m.To)
		if len(targets) == 0 {
			p.tel.ReportDebug("ignoring message without routed recipient", "ref", m.Ref)
			ignore(m)
			continue
		}

		if !p.authorized(m.From) {
			p.tel.ReportWarning(report_unauthorized, "from", m.From, "subject", m.Subject)
			p.alert(&res,
				"portalbridge: rejected message from unauthorized sender",
				fmt.Sprintf("A message from %s with subject %q was addressed to the portal but the sender is not allowed to post. It was dropped.", m.From, m.Subject),
			)
			ignore(m)
			continue
		}

		text := StripQuote(m.Text)
		if text == "" {
			p.alert(&res,
				"portalbridge: rejected empty message",
				fmt.Sprintf("The message from %s with subject %q has no text and was not posted.", m.From, m.Subject),
			)
			ignore(m)
			continue
		}

		chunks := Split(text, p.capacity)
		marker := newMarker(p.mailbox, m.Ref, len(targets), p.release)
		p.claim(m.Ref)
		for _, target := range targets {
			res.Posts = append(res.Posts, Post{
				Target:  target,
				Subject: CleanSubject(m.Subject),
				Chunks:  chunks,
				From:    m.From,
				marker:  marker,
			})
		}
	}

	return res, errors.Join(errs...)
}

var replyPrefix = regexp.MustCompile(`^(?i)((re|aw|fwd?|wg)\s*:\s*)+`)

// CleanSubject removes reply and forward prefixes.
func CleanSubject(subject string) string {
	s := strings.TrimSpace(replyPrefix.ReplaceAllString(strings.TrimSpace(subject), ""))
	if s == "" {
		return "(no subject)"
	}
	return s
}

var attribution = regexp.MustCompile(`^(On|Am) .+(wrote|schrieb):\s*$`)

// StripQuote removes the quoted original that mail clients append to a reply:
// everything from the attribution line ("On ... wrote:") or the first block
// of ">" lines that runs until the end of the message.
func StripQuote(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	end := len(lines)
	for i, l := range lines {
		if attribution.MatchString(strings.TrimSpace(l)) {
			end = i
			break
		}
	}
	for end > 0 {
		l := strings.TrimSpace(lines[end-1])
		if l == "" || strings.HasPrefix(l, ">") {
			end--
			continue
		}
		break
	}
	return strings.TrimSpace(strings.Join(lines[:end], "\n"))
}
