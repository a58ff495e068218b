package portal

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"portalbridge/internal/item"
	"portalbridge/internal/mail"
	"portalbridge/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

const (
	report_scrape_announcements = "scrape.announcements"
	report_scrape_threads       = "scrape.threads"
	report_scrape_inquiries     = "scrape.inquiries"
	report_scrape_substitutions = "scrape.substitutions"
	report_scrape_notices       = "scrape.notices"
	report_scrape_events        = "scrape.events"
	report_download             = "client.download"
)

// ErrStructure reports a page that does not look like expected.
type ErrStructure struct {
	Page   string
	Reason string
}

func (e ErrStructure) Error() string {
	return fmt.Sprintf("unexpected page structure at %s: %s", e.Page, e.Reason)
}

func (c *Client) date(sel *goquery.Selection) (time.Time, error) {
	node := sel.Find("time").First()
	value := node.AttrOr("datetime", "")
	if value == "" {
		value = node.Text()
	}
	return htmlutil.ParseDate(value, c.opts.Location)
}

func (c *Client) download(ctx context.Context, link string) ([]byte, error) {
	res, err := c.Http.R().
		SetContext(ctx).
		Get(link)
	if err != nil {
		c.tel.ReportBroken(report_download, err, link)
		return nil, err
	}
	if res.IsError() {
		err := fmt.Errorf("download %s: %s", link, res.Status())
		c.tel.ReportBroken(report_download, err)
		return nil, err
	}
	return res.Body(), nil
}

func (c *Client) attachments(ctx context.Context, base *url.URL, sel *goquery.Selection) []mail.Attachment {
	links := htmlutil.Links(ctx, base, sel.Find("a.attachment"))
	out := make([]mail.Attachment, 0, len(links))
	for _, a := range links {
		link := a.URL.String()
		name := a.Name
		if name == "" {
			name = path.Base(a.URL.Path)
		}
		out = append(out, mail.Attachment{
			Name:        name,
			ContentType: mime.TypeByExtension(path.Ext(name)),
			Load: func(ctx context.Context) ([]byte, error) {
				return c.download(ctx, link)
			},
		})
	}
	return out
}

func (c *Client) confirmer(action string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := c.Submit(ctx, action, nil)
		return err
	}
}

// Announcements returns the announcements dated at or after since, newest
// first as listed by the portal.
func (c *Client) Announcements(ctx context.Context, since time.Time) ([]item.Announcement, error) {
	const page = "/announcements"
	p, err := c.Navigate(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("announcements: %w", err)
	}

	var out []item.Announcement
	var parseErr error
	p.Doc.Find("article.announcement").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		id := s.AttrOr("data-id", "")
		if id == "" {
			parseErr = ErrStructure{Page: page, Reason: "announcement without data-id"}
			return false
		}
		date, err := c.date(s)
		if err != nil {
			parseErr = ErrStructure{Page: page, Reason: err.Error()}
			return false
		}
		if date.Before(since) {
			return true
		}

		body := s.Find(".body").First()
		markup, _ := body.Html()
		a := item.Announcement{
			ID:          id,
			Title:       htmlutil.Text(s.Find(".title").First()),
			Author:      htmlutil.Text(s.Find(".author").First()),
			Date:        date,
			Body:        htmlutil.Text(body),
			HTML:        strings.TrimSpace(markup),
			Attachments: c.attachments(ctx, p.Url, s),
		}
		if action, ok := s.Find("form.confirm").Attr("action"); ok && c.opts.ConfirmAnnouncements {
			a.Confirm = c.confirmer(action)
		}
		out = append(out, a)
		return true
	})
	if parseErr != nil {
		c.tel.ReportBroken(report_scrape_announcements, parseErr)
		return nil, parseErr
	}
	return out, nil
}

func (c *Client) messages(ctx context.Context, base *url.URL, sel *goquery.Selection) ([]item.Message, error) {
	var out []item.Message
	var parseErr error
	sel.Find("div.message").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		date, err := c.date(s)
		if err != nil {
			parseErr = err
			return false
		}
		out = append(out, item.Message{
			Author:      htmlutil.Text(s.Find(".author").First()),
			Date:        date,
			Body:        htmlutil.Text(s.Find(".body").First()),
			Attachments: c.attachments(ctx, base, s),
		})
		return true
	})
	return out, parseErr
}

type threadRow struct {
	id      string
	subject string
	teacher string
	updated time.Time
}

// Threads returns the teacher conversations updated at or after since, each
// with all of its messages.
func (c *Client) Threads(ctx context.Context, since time.Time) ([]item.Thread, error) {
	const page = "/messages"
	p, err := c.Navigate(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("threads: %w", err)
	}

	var rows []threadRow
	var parseErr error
	p.Doc.Find("tr.thread").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		id := s.AttrOr("data-id", "")
		if id == "" {
			parseErr = ErrStructure{Page: page, Reason: "thread without data-id"}
			return false
		}
		updated, err := c.date(s)
		if err != nil {
			parseErr = ErrStructure{Page: page, Reason: err.Error()}
			return false
		}
		rows = append(rows, threadRow{
			id:      id,
			subject: htmlutil.Text(s.Find(".subject").First()),
			teacher: htmlutil.Text(s.Find(".teacher").First()),
			updated: updated,
		})
		return true
	})
	if parseErr != nil {
		c.tel.ReportBroken(report_scrape_threads, parseErr)
		return nil, parseErr
	}

	var out []item.Thread
	for _, row := range rows {
		if row.updated.Before(since) {
			continue
		}
		threadPage := "/messages/" + url.PathEscape(row.id)
		tp, err := c.Navigate(ctx, threadPage)
		if err != nil {
			return nil, fmt.Errorf("thread %s: %w", row.id, err)
		}
		messages, err := c.messages(ctx, tp.Url, tp.Doc.Selection)
		if err != nil {
			err = ErrStructure{Page: threadPage, Reason: err.Error()}
			c.tel.ReportBroken(report_scrape_threads, err)
			return nil, err
		}
		out = append(out, item.Thread{
			ID:       row.id,
			Subject:  row.subject,
			Teacher:  row.teacher,
			Messages: messages,
		})
	}
	return out, nil
}

// Inquiries returns the inquiries with activity at or after since. Inquiries
// are listed with all their messages on a single page.
func (c *Client) Inquiries(ctx context.Context, since time.Time) ([]item.Thread, error) {
	const page = "/inquiries"
	p, err := c.Navigate(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("inquiries: %w", err)
	}

	var out []item.Thread
	var parseErr error
	p.Doc.Find("section.inquiry").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		messages, err := c.messages(ctx, p.Url, s)
		if err != nil {
			parseErr = ErrStructure{Page: page, Reason: err.Error()}
			return false
		}
		if len(messages) == 0 || messages[len(messages)-1].Date.Before(since) {
			return true
		}
		out = append(out, item.Thread{
			Subject:  htmlutil.Text(s.Find(".subject").First()),
			Teacher:  htmlutil.Text(s.Find(".teacher").First()),
			Messages: messages,
		})
		return true
	})
	if parseErr != nil {
		c.tel.ReportBroken(report_scrape_inquiries, parseErr)
		return nil, parseErr
	}
	return out, nil
}

func cells(row *goquery.Selection) []string {
	var out []string
	row.Find("td").Each(func(_ int, td *goquery.Selection) {
		out = append(out, htmlutil.Text(td))
	})
	return out
}

// Substitutions returns every day currently published on the substitution
// plan.
func (c *Client) Substitutions(ctx context.Context) ([]item.Day, error) {
	const page = "/substitutions"
	p, err := c.Navigate(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("substitutions: %w", err)
	}

	var out []item.Day
	var parseErr error
	p.Doc.Find("section.day").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		date, err := c.date(s.Find("h2").First())
		if err != nil {
			parseErr = ErrStructure{Page: page, Reason: err.Error()}
			return false
		}
		day := item.Day{
			Date: date,
			Info: htmlutil.Text(s.Find(".info")),
		}
		s.Find("table tr").Each(func(_ int, tr *goquery.Selection) {
			col := cells(tr)
			if len(col) < 6 {
				return
			}
			day.Rows = append(day.Rows, item.Substitution{
				Class:   col[0],
				Period:  col[1],
				Subject: col[2],
				Teacher: col[3],
				Room:    col[4],
				Note:    col[5],
			})
		})
		out = append(out, day)
		return true
	})
	if parseErr != nil {
		c.tel.ReportBroken(report_scrape_substitutions, parseErr)
		return nil, parseErr
	}
	return out, nil
}

// Notices returns the portal's notice board, newest first.
func (c *Client) Notices(ctx context.Context) ([]item.Notice, error) {
	const page = "/notices"
	p, err := c.Navigate(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("notices: %w", err)
	}

	var out []item.Notice
	var parseErr error
	p.Doc.Find("article.notice").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		date, err := c.date(s)
		if err != nil {
			parseErr = ErrStructure{Page: page, Reason: err.Error()}
			return false
		}
		out = append(out, item.Notice{
			Title: htmlutil.Text(s.Find(".title").First()),
			Date:  date,
			Body:  htmlutil.Text(s.Find(".body").First()),
		})
		return true
	})
	if parseErr != nil {
		c.tel.ReportBroken(report_scrape_notices, parseErr)
		return nil, parseErr
	}
	return out, nil
}

// Events returns every listed calendar event. Events are never filtered by
// date here, the diff needs the complete list to detect removals.
func (c *Client) Events(ctx context.Context) ([]item.Event, error) {
	const page = "/calendar"
	p, err := c.Navigate(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}

	var out []item.Event
	var parseErr error
	p.Doc.Find("li.event").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		date, err := c.date(s)
		if err != nil {
			parseErr = ErrStructure{Page: page, Reason: err.Error()}
			return false
		}
		out = append(out, item.Event{
			Title:    htmlutil.Text(s.Find(".title").First()),
			Date:     date,
			Location: htmlutil.Text(s.Find(".location").First()),
		})
		return true
	})
	if parseErr != nil {
		c.tel.ReportBroken(report_scrape_events, parseErr)
		return nil, parseErr
	}
	return out, nil
}
