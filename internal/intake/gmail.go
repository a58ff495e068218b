package intake

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/mail"
	"os"
	"strings"
	"sync"
	"time"

	"portalbridge/internal/components/assert"
	"portalbridge/internal/components/telemetry"
	"portalbridge/pkg/htmlutil"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const report_history = "gmail.history"

// NewGmailService creates a Gmail client from an OAuth client secret and a
// previously authorized token, both as JSON files.
func NewGmailService(ctx context.Context, credentialsFile, tokenFile string) (*gmailv1.Service, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials at %s: %w", credentialsFile, err)
	}
	cfg, err := google.ConfigFromJSON(b, gmailv1.GmailModifyScope)
	if err != nil {
		return nil, fmt.Errorf("parse oauth config: %w", err)
	}

	f, err := os.Open(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("read token at %s: %w", tokenFile, err)
	}
	defer f.Close()
	var tok oauth2.Token
	err = json.NewDecoder(f).Decode(&tok)
	if err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}

	svc, err := gmailv1.NewService(ctx, option.WithHTTPClient(cfg.Client(ctx, &tok)))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return svc, nil
}

// GmailMailbox is a Mailbox over the Gmail API. The processed flag is a
// user label, Gmail has no IMAP-style push for this client so new mail is
// detected by polling the mailbox history id.
type GmailMailbox struct {
	svc   *gmailv1.Service
	tel   telemetry.API
	user  string
	label string
	poll  time.Duration

	mu      sync.Mutex
	labelID string
}

func NewGmailMailbox(svc *gmailv1.Service, tel telemetry.API, user, label string, poll time.Duration) *GmailMailbox {
	assert.NotNil(svc)
	assert.NotNil(tel)
	assert.NotEmptyStr(label)
	assert.Positive(poll, "poll")
	if user == "" {
		user = "me"
	}
	return &GmailMailbox{svc: svc, tel: tel, user: user, label: label, poll: poll}
}

// ensureLabel returns the id of the processed label, creating it on first use.
func (g *GmailMailbox) ensureLabel(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.labelID != "" {
		return g.labelID, nil
	}

	labels, err := g.svc.Users.Labels.List(g.user).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("list labels: %w", err)
	}
	for _, l := range labels.Labels {
		if l.Name == g.label {
			g.labelID = l.Id
			return g.labelID, nil
		}
	}

	created, err := g.svc.Users.Labels.Create(g.user, &gmailv1.Label{
		Name:                  g.label,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create label %s: %w", g.label, err)
	}
	g.labelID = created.Id
	return g.labelID, nil
}

func (g *GmailMailbox) Fetch(ctx context.Context) ([]Inbound, error) {
	_, err := g.ensureLabel(ctx)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("-label:%q", g.label)
	var ids []string
	pageToken := ""
	for {
		call := g.svc.Users.Messages.List(g.user).
			LabelIds("INBOX").
			Q(query).
			MaxResults(100).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	// oldest first, the list is newest first
	out := make([]Inbound, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		msg, err := g.svc.Users.Messages.Get(g.user, ids[i]).Format("full").Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("get message %s: %w", ids[i], err)
		}
		out = append(out, inboundFromGmail(msg))
	}
	return out, nil
}

func (g *GmailMailbox) MarkProcessed(ctx context.Context, ref string) error {
	labelID, err := g.ensureLabel(ctx)
	if err != nil {
		return err
	}
	_, err = g.svc.Users.Messages.Modify(g.user, ref, &gmailv1.ModifyMessageRequest{
		AddLabelIds: []string{labelID},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("label message %s: %w", ref, err)
	}
	return nil
}

func (g *GmailMailbox) historyID(ctx context.Context) (uint64, error) {
	profile, err := g.svc.Users.GetProfile(g.user).Context(ctx).Do()
	if err != nil {
		return 0, err
	}
	return profile.HistoryId, nil
}

// Watch polls the mailbox history id and calls notify whenever it moved.
func (g *GmailMailbox) Watch(ctx context.Context, notify func()) error {
	last, err := g.historyID(ctx)
	if err != nil {
		return fmt.Errorf("get history id: %w", err)
	}

	ticker := time.NewTicker(g.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		current, err := g.historyID(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			g.tel.ReportWarning(report_history, err)
			continue
		}
		if current != last {
			last = current
			notify()
		}
	}
}

func inboundFromGmail(msg *gmailv1.Message) Inbound {
	in := Inbound{
		Ref:  msg.Id,
		Date: time.UnixMilli(msg.InternalDate),
	}
	if msg.Payload == nil {
		return in
	}
	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			in.From = h.Value
		case "subject":
			in.Subject = h.Value
		case "to", "cc", "delivered-to", "x-original-to":
			in.To = append(in.To, addressList(h.Value)...)
		}
	}
	in.Text = plainText(msg.Payload)
	if in.Text == "" {
		if markup := htmlPart(msg.Payload); markup != "" {
			in.Text = htmlutil.TextFromHTML(markup)
		}
	}
	return in
}

func addressList(value string) []string {
	list, err := mail.ParseAddressList(value)
	if err != nil {
		var out []string
		for _, v := range strings.Split(value, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
		return out
	}
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.Address
	}
	return out
}

func decodeBase64URL(data string) string {
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		// gmail usually omits the padding
		b, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return ""
		}
	}
	return string(b)
}

// plainText returns the first text/plain body of the MIME tree.
func plainText(part *gmailv1.MessagePart) string {
	if part == nil {
		return ""
	}
	if strings.EqualFold(part.MimeType, "text/plain") && part.Body != nil && part.Body.Data != "" {
		return decodeBase64URL(part.Body.Data)
	}
	for _, sub := range part.Parts {
		if body := plainText(sub); body != "" {
			return body
		}
	}
	return ""
}

func htmlPart(part *gmailv1.MessagePart) string {
	if part == nil {
		return ""
	}
	if strings.EqualFold(part.MimeType, "text/html") && part.Body != nil && part.Body.Data != "" {
		return decodeBase64URL(part.Body.Data)
	}
	for _, sub := range part.Parts {
		if body := htmlPart(sub); body != "" {
			return body
		}
	}
	return ""
}
