// Package render turns scraped items into email bodies. The text rendering of
// substitution days and notices doubles as the input of their content hash,
// so any change to it re-sends those categories once.
package render

import (
	"fmt"
	"html"
	"strings"
	"time"

	"portalbridge/internal/item"
	"portalbridge/pkg/htmlutil"

	"github.com/jedib0t/go-pretty/v6/table"
)

const dateLayout = "Mon 02.01.2006"
const timeLayout = "Mon 02.01.2006 15:04"

// Body is a rendered email.
type Body struct {
	Subject string
	Text    string
	HTML    string
}

func paragraphs(text string) string {
	var sb strings.Builder
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		sb.WriteString("<p>")
		sb.WriteString(strings.ReplaceAll(html.EscapeString(p), "\n", "<br>"))
		sb.WriteString("</p>\n")
	}
	return sb.String()
}

func document(title, content string) string {
	return fmt.Sprintf(
		"<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>%s</title></head><body>\n%s</body></html>\n",
		html.EscapeString(title),
		content,
	)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(dateLayout)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	if t.Hour() == 0 && t.Minute() == 0 {
		return t.Format(dateLayout)
	}
	return t.Format(timeLayout)
}

// plainText returns text, or the text content of markup when text is empty.
func plainText(text, markup string) string {
	if strings.TrimSpace(text) != "" {
		return htmlutil.CleanText(text)
	}
	return htmlutil.TextFromHTML(markup)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	return t
}

func Announcement(a item.Announcement) Body {
	text := plainText(a.Body, a.HTML)
	header := fmt.Sprintf("%s, %s", a.Author, formatTime(a.Date))
	if a.Author == "" {
		header = formatTime(a.Date)
	}
	return Body{
		Subject: a.Title,
		Text:    fmt.Sprintf("%s\n\n%s\n", header, text),
		HTML: document(a.Title, fmt.Sprintf(
			"<h2>%s</h2>\n<p><i>%s</i></p>\n%s",
			html.EscapeString(a.Title),
			html.EscapeString(header),
			paragraphs(text),
		)),
	}
}

// ThreadMessage renders message `index` of a thread, replies get a "Re:"
// subject so mail clients group them even without the threading headers.
func ThreadMessage(t item.Thread, index int) Body {
	m := t.Messages[index]
	subject := t.Subject
	if index > 0 {
		subject = "Re: " + subject
	}
	header := fmt.Sprintf("%s, %s", m.Author, formatTime(m.Date))
	text := htmlutil.CleanText(m.Body)
	return Body{
		Subject: subject,
		Text:    fmt.Sprintf("%s\n\n%s\n", header, text),
		HTML: document(subject, fmt.Sprintf(
			"<p><i>%s</i></p>\n%s",
			html.EscapeString(header),
			paragraphs(text),
		)),
	}
}

func dayTable(d item.Day) table.Writer {
	t := newTable()
	t.SetTitle(formatDate(d.Date))
	t.AppendHeader(table.Row{"Class", "Period", "Subject", "Teacher", "Room", "Note"})
	for _, r := range d.Rows {
		t.AppendRow(table.Row{r.Class, r.Period, r.Subject, r.Teacher, r.Room, r.Note})
	}
	return t
}

// Day renders the substitution plan of one day as text, the result is the
// content hashed by the substitution diff.
func Day(d item.Day) string {
	var sb strings.Builder
	if info := strings.TrimSpace(d.Info); info != "" {
		sb.WriteString(htmlutil.CleanText(info))
		sb.WriteString("\n")
	}
	if len(d.Rows) == 0 {
		fmt.Fprintf(&sb, "%s: no substitutions\n", formatDate(d.Date))
		return sb.String()
	}
	sb.WriteString(dayTable(d).Render())
	sb.WriteString("\n")
	return sb.String()
}

// Substitutions renders the whole plan, days whose updated flag is set are
// marked as updated.
func Substitutions(days []item.Day, updated []bool) Body {
	const subject = "Substitution plan"
	var text, content strings.Builder
	for i, d := range days {
		marker := ""
		if updated[i] {
			marker = " [updated]"
		}
		fmt.Fprintf(&text, "== %s%s ==\n%s\n", formatDate(d.Date), marker, Day(d))

		fmt.Fprintf(&content, "<h3>%s%s</h3>\n", html.EscapeString(formatDate(d.Date)), html.EscapeString(marker))
		if info := strings.TrimSpace(d.Info); info != "" {
			content.WriteString(paragraphs(htmlutil.CleanText(info)))
		}
		if len(d.Rows) == 0 {
			content.WriteString("<p>no substitutions</p>\n")
			continue
		}
		content.WriteString(dayTable(d).RenderHTML())
		content.WriteString("\n")
	}
	return Body{
		Subject: subject,
		Text:    text.String(),
		HTML:    document(subject, content.String()),
	}
}

// NoticeText renders a notice as text, the result is the content hashed by
// the notice diff.
func NoticeText(n item.Notice) string {
	return fmt.Sprintf("%s\n%s\n\n%s\n", n.Title, formatDate(n.Date), htmlutil.CleanText(n.Body))
}

func Notice(n item.Notice) Body {
	body := htmlutil.CleanText(n.Body)
	return Body{
		Subject: n.Title,
		Text:    NoticeText(n),
		HTML: document(n.Title, fmt.Sprintf(
			"<h2>%s</h2>\n<p><i>%s</i></p>\n%s",
			html.EscapeString(n.Title),
			html.EscapeString(formatDate(n.Date)),
			paragraphs(body),
		)),
	}
}

type Status string

const (
	StatusNew       Status = "new"
	StatusUnchanged Status = "unchanged"
	StatusRemoved   Status = "removed"
)

type EventEntry struct {
	Event  item.Event
	Status Status
}

// Events renders the event overview, entries are rendered in the given order.
func Events(entries []EventEntry) Body {
	const subject = "Upcoming events"
	t := newTable()
	t.AppendHeader(table.Row{"Date", "Event", "Location", "Status"})
	for _, e := range entries {
		t.AppendRow(table.Row{formatTime(e.Event.Date), e.Event.Title, e.Event.Location, string(e.Status)})
	}
	return Body{
		Subject: subject,
		Text:    t.Render() + "\n",
		HTML:    document(subject, t.RenderHTML()+"\n"),
	}
}

// Summary renders the error summary sent to the administrator after an
// iteration with failed deliveries.
func Summary(failures []string) Body {
	subject := fmt.Sprintf("portalbridge: %d notification(s) could not be delivered", len(failures))
	var sb strings.Builder
	sb.WriteString("The following notifications failed and will be retried in the next iteration:\n\n")
	for _, f := range failures {
		sb.WriteString("- ")
		sb.WriteString(f)
		sb.WriteString("\n")
	}
	return Body{
		Subject: subject,
		Text:    sb.String(),
	}
}
