package portal

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"portalbridge/internal/intake"
	"portalbridge/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

const (
	report_poster_teachers   = "poster.teachers"
	report_poster_new_thread = "poster.new-thread"
	report_poster_reply      = "poster.reply"
)

// Teachers lists the recipients offered by the new message form.
func (c *Client) Teachers(ctx context.Context) ([]intake.Teacher, error) {
	p, err := c.Navigate(ctx, "/messages/new")
	if err != nil {
		return nil, fmt.Errorf("teachers: %w", err)
	}

	var out []intake.Teacher
	p.Doc.Find("select[name=teacher] option").Each(func(_ int, s *goquery.Selection) {
		id := strings.TrimSpace(s.AttrOr("value", ""))
		if id == "" {
			return
		}
		out = append(out, intake.Teacher{ID: id, Name: htmlutil.Text(s)})
	})
	if len(out) == 0 {
		err := ErrStructure{Page: "/messages/new", Reason: "no teachers in recipient list"}
		c.tel.ReportBroken(report_poster_teachers, err)
		return nil, err
	}
	return out, nil
}

// threadID finds the id of the thread a page shows, either from the
// data-thread-id attribute or from a /messages/<id> url.
func threadID(p Page) string {
	if id, ok := p.Doc.Find("[data-thread-id]").First().Attr("data-thread-id"); ok && id != "" {
		return id
	}
	if p.Url == nil {
		return ""
	}
	parts := strings.Split(strings.Trim(p.Url.Path, "/"), "/")
	if len(parts) == 2 && parts[0] == "messages" && parts[1] != "new" {
		return parts[1]
	}
	return ""
}

// NewThread starts a conversation with a teacher and returns the id of the
// created thread.
func (c *Client) NewThread(ctx context.Context, teacherID, subject, body string) (string, error) {
	// loads the form and with it a fresh csrf token
	_, err := c.Navigate(ctx, "/messages/new")
	if err != nil {
		return "", fmt.Errorf("new thread: %w", err)
	}

	p, err := c.Submit(ctx, "/messages/new", map[string]string{
		"teacher": teacherID,
		"subject": subject,
		"body":    body,
	})
	if err != nil {
		return "", fmt.Errorf("new thread: %w", err)
	}

	id := threadID(p)
	if id == "" {
		err := ErrStructure{Page: p.Url.String(), Reason: "no thread id after posting"}
		c.tel.ReportBroken(report_poster_new_thread, err, teacherID)
		return "", err
	}
	c.tel.ReportDebug("created thread", "id", id, "teacher", teacherID)
	return id, nil
}

// Reply posts a message into an existing thread.
func (c *Client) Reply(ctx context.Context, thread, body string) error {
	page := "/messages/" + url.PathEscape(thread)
	_, err := c.Navigate(ctx, page)
	if err != nil {
		return fmt.Errorf("reply to %s: %w", thread, err)
	}

	p, err := c.Submit(ctx, page+"/reply", map[string]string{"body": body})
	if err != nil {
		return fmt.Errorf("reply to %s: %w", thread, err)
	}
	if msg := strings.TrimSpace(p.Doc.Find(".form-error").Text()); msg != "" {
		err := fmt.Errorf("reply to %s rejected: %s", thread, msg)
		c.tel.ReportBroken(report_poster_reply, err)
		return err
	}
	return nil
}
