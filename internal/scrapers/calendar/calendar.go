// Package calendar scrapes the public school calendar (a Finalsite calendar
// element) for upcoming events.
package calendar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"portalbridge/internal/components/assert"
	"portalbridge/internal/components/chrono"
	"portalbridge/internal/components/telemetry"
	"portalbridge/internal/item"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

const (
	report_client_parse_calendar = "client.parse-calendar"
)

type Client struct {
	url  *url.URL
	http *resty.Client
	time chrono.TimeAPI
	tel  telemetry.API
}

func NewClient(link string, time chrono.TimeAPI, tel telemetry.API) (Client, error) {
	assert.NotNil(time)
	assert.NotNil(tel)

	parsed, err := url.Parse(link)
	if err != nil {
		return Client{}, fmt.Errorf("calendar url: %w", err)
	}
	tel = telemetry.NewScopedAPI("calendar_scraper", tel)

	http := resty.New()
	telemetry.InstrumentResty(http, tel)

	return Client{
		url:  parsed,
		http: http,
		time: time,
		tel:  tel,
	}, nil
}

// months returns the first day of every month touching [from, from+days].
func months(from time.Time, days int) []time.Time {
	end := from.AddDate(0, 0, days)
	current := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, from.Location())
	var out []time.Time
	for !current.After(end) {
		out = append(out, current)
		current = current.AddDate(0, 1, 0)
	}
	return out
}

// Events fetches every month of the lookahead window in parallel. The
// returned events are sorted by date and never filtered, the diff decides
// what is upcoming.
func (c Client) Events(ctx context.Context, lookaheadDays int) ([]item.Event, error) {
	today := chrono.Today(c.time)

	var result []item.Event
	var errList []error
	resultLock := sync.Mutex{}
	wg := sync.WaitGroup{}

	for _, month := range months(today, lookaheadDays) {
		link := *c.url
		query := link.Query()
		query.Set("cal_date", month.Format("2006-01-02"))
		query.Set("is_draft", "false")
		query.Set("is_load_more", "true")
		link.RawQuery = query.Encode()

		wg.Add(1)
		go func() {
			defer wg.Done()

			events, err := c.parseCalendar(ctx, link.String())

			resultLock.Lock()
			defer resultLock.Unlock()
			if err != nil {
				errList = append(errList, err)
				return
			}
			result = append(result, events...)
		}()
	}

	wg.Wait()

	if len(errList) > 0 {
		return nil, errors.Join(errList...)
	}

	// months overlap when the element shows trailing days of the next month
	seen := map[string]bool{}
	deduped := result[:0]
	for _, e := range result {
		if seen[e.ID()] {
			continue
		}
		seen[e.ID()] = true
		deduped = append(deduped, e)
	}

	slices.SortStableFunc(deduped, func(a, b item.Event) int {
		if n := a.Date.Compare(b.Date); n != 0 {
			return n
		}
		return strings.Compare(a.Title, b.Title)
	})
	return deduped, nil
}

func (c Client) parseCalendar(ctx context.Context, link string) ([]item.Event, error) {
	c.tel.ReportDebug("parse calendar", link)

	res, err := c.http.R().
		SetContext(ctx).
		Get(link)
	if err != nil {
		c.tel.ReportBroken(
			report_client_parse_calendar,
			fmt.Errorf("fetch: %w", err),
		)
		return nil, err
	}
	if res.IsError() {
		err := fmt.Errorf("fetch %s: %s", link, res.Status())
		c.tel.ReportBroken(report_client_parse_calendar, err)
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		c.tel.ReportBroken(
			report_client_parse_calendar,
			fmt.Errorf("parse html: %w", err),
		)
		return nil, err
	}

	loc := c.time.Location()
	var events []item.Event
	var parseErr error
	doc.Find("div.fsCalendarDate").EachWithBreak(func(_ int, div *goquery.Selection) bool {
		var parts [3]int
		for i, attr := range []string{"data-year", "data-month", "data-day"} {
			value := div.AttrOr(attr, "")
			n, err := strconv.Atoi(value)
			if err != nil {
				parseErr = fmt.Errorf("parse %s %q: %w", attr, value, err)
				return false
			}
			parts[i] = n
		}
		date := time.Date(parts[0], time.Month(parts[1]), parts[2], 0, 0, 0, 0, loc)

		div.Parent().Find("a.fsCalendarEventLink").Each(func(_ int, s *goquery.Selection) {
			title := strings.TrimSpace(s.Text())
			location := strings.TrimSpace(s.Parent().Find(".fsLocation").First().Text())
			c.tel.ReportDebug("parsed event", date.Format("2006-01-02"), title)

			events = append(events, item.Event{
				Title:    title,
				Date:     date,
				Location: location,
			})
		})
		return true
	})
	if parseErr != nil {
		c.tel.ReportBroken(report_client_parse_calendar, parseErr, link)
		return nil, parseErr
	}

	return events, nil
}
