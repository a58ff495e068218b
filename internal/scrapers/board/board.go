// Package board scrapes the public notice board of the school website.
package board

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"portalbridge/internal/components/assert"
	"portalbridge/internal/components/chrono"
	"portalbridge/internal/components/telemetry"
	"portalbridge/internal/item"
	"portalbridge/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

const report_client_notices = "client.notices"

type Client struct {
	link string
	http *resty.Client
	time chrono.TimeAPI
	tel  telemetry.API
}

func NewClient(link string, time chrono.TimeAPI, tel telemetry.API) Client {
	assert.NotEmptyStr(link)
	assert.NotNil(time)
	assert.NotNil(tel)

	tel = telemetry.NewScopedAPI("board_scraper", tel)
	http := resty.New()
	telemetry.InstrumentResty(http, tel)

	return Client{link: link, http: http, time: time, tel: tel}
}

// Notices returns the entries of the board, newest first. Entries without a
// readable date keep the zero date, their hash has to stay stable.
func (c Client) Notices(ctx context.Context) ([]item.Notice, error) {
	res, err := c.http.R().
		SetContext(ctx).
		Get(c.link)
	if err != nil {
		c.tel.ReportBroken(report_client_notices, fmt.Errorf("fetch: %w", err))
		return nil, err
	}
	if res.IsError() {
		err := fmt.Errorf("fetch %s: %s", c.link, res.Status())
		c.tel.ReportBroken(report_client_notices, err)
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		c.tel.ReportBroken(report_client_notices, fmt.Errorf("parse html: %w", err))
		return nil, err
	}

	entries := doc.Find(".board-entry")
	if entries.Length() == 0 && doc.Find(".board").Length() == 0 {
		err := fmt.Errorf("no notice board on %s", c.link)
		c.tel.ReportBroken(report_client_notices, err)
		return nil, err
	}

	var out []item.Notice
	entries.Each(func(_ int, s *goquery.Selection) {
		title := htmlutil.Text(s.Find("h3").First())
		date, err := htmlutil.ParseDate(s.Find(".date").First().Text(), c.time.Location())
		if err != nil {
			c.tel.ReportWarning(report_client_notices, err, title)
			date = time.Time{}
		}
		out = append(out, item.Notice{
			Title: title,
			Date:  date,
			Body:  htmlutil.Text(s.Find(".content").First()),
		})
	})
	return out, nil
}
