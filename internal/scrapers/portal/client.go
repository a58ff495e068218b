// Package portal scrapes the parent portal and posts messages into it.
//
// client.go contains the session handling (login, navigation, form
// submission), scraping.go the category scrapers and poster.go everything
// that writes to the portal.
package portal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"portalbridge/internal/components/assert"
	"portalbridge/internal/components/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	report_client_login    = "client.login"
	report_client_navigate = "client.navigate"
	report_client_submit   = "client.submit"
)

var ErrLoginFailed = errors.New("portal login failed")

// Options configures a portal client.
type Options struct {
	BaseUrl  string
	Username string
	Password string
	// RateLimit is the maximum number of requests per second.
	RateLimit float64
	// Location is used for portal dates without a zone.
	Location *time.Location
	// ConfirmAnnouncements acknowledges announcements after they were mailed.
	ConfirmAnnouncements bool
}

// Client is a logged in portal session.
type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client

	opts Options
	tel  telemetry.API

	mu    sync.Mutex
	token string
}

func NewClient(opts Options, tel telemetry.API) (*Client, error) {
	assert.NotNil(tel)
	assert.NotEmptyStr(opts.BaseUrl)
	if opts.RateLimit <= 0 {
		opts.RateLimit = 2
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	tel = telemetry.NewScopedAPI("portal_scraper", tel)

	parsedBaseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(strings.TrimSuffix(opts.BaseUrl, "/"))
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	httpClient.SetCookieJar(jar)
	httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)

	httpClient.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	httpClient.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(parsedBaseUrl.Hostname()))
	httpClient.SetTimeout(time.Second * 30)

	// burst >= 1 means no request is ever dropped, only delayed
	burst := int(opts.RateLimit)
	if burst < 1 {
		burst = 1
	}
	rateLimiter := rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(httpClient, tel)

	return &Client{
		BaseUrl: parsedBaseUrl,
		Http:    httpClient,
		opts:    opts,
		tel:     tel,
	}, nil
}

// Page is a fetched portal page.
type Page struct {
	Url *url.URL
	Doc *goquery.Document
}

func (c *Client) page(res *resty.Response) (Page, error) {
	if res.IsError() {
		return Page{}, fmt.Errorf("%s %s: %s", res.Request.Method, res.Request.URL, res.Status())
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return Page{}, fmt.Errorf("parse: %w", err)
	}
	pageUrl := c.BaseUrl
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		pageUrl = res.RawResponse.Request.URL
	}

	if token := doc.Find("meta[name=csrf-token]").AttrOr("content", ""); token != "" {
		c.mu.Lock()
		c.token = token
		c.mu.Unlock()
	}
	return Page{Url: pageUrl, Doc: doc}, nil
}

// Navigate fetches a page relative to the base url.
func (c *Client) Navigate(ctx context.Context, path string) (Page, error) {
	res, err := c.Http.R().
		SetContext(ctx).
		Get(path)
	if err != nil {
		c.tel.ReportBroken(report_client_navigate, fmt.Errorf("fetch: %w", err), path)
		return Page{}, err
	}
	p, err := c.page(res)
	if err != nil {
		c.tel.ReportBroken(report_client_navigate, err, path)
		return Page{}, err
	}
	return p, nil
}

// Submit posts a form, the session's csrf token is added to the fields. The
// returned page is the one the portal redirected to.
func (c *Client) Submit(ctx context.Context, path string, fields map[string]string) (Page, error) {
	form := map[string]string{}
	for k, v := range fields {
		form[k] = v
	}
	c.mu.Lock()
	if c.token != "" {
		form["token"] = c.token
	}
	c.mu.Unlock()

	res, err := c.Http.R().
		SetContext(ctx).
		SetFormData(form).
		Post(path)
	if err != nil {
		c.tel.ReportBroken(report_client_submit, fmt.Errorf("post: %w", err), path)
		return Page{}, err
	}
	p, err := c.page(res)
	if err != nil {
		c.tel.ReportBroken(report_client_submit, err, path)
		return Page{}, err
	}
	return p, nil
}

// Login opens a session with the configured credentials.
func (c *Client) Login(ctx context.Context) error {
	loginError := func(err error) error {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	// fetching the login page sets the session cookie and the csrf token
	_, err := c.Navigate(ctx, "/login")
	if err != nil {
		c.tel.ReportBroken(report_client_login, fmt.Errorf("login page: %w", err))
		return loginError(err)
	}

	p, err := c.Submit(ctx, "/login", map[string]string{
		"username": c.opts.Username,
		"password": c.opts.Password,
	})
	if err != nil {
		c.tel.ReportBroken(report_client_login, fmt.Errorf("login request: %w", err))
		return loginError(err)
	}

	if p.Doc.Find("[data-user]").Length() == 0 {
		msg := strings.TrimSpace(p.Doc.Find(".login-error").Text())
		if msg == "" {
			msg = "no user menu after login"
		}
		err := errors.New(msg)
		c.tel.ReportWarning(report_client_login, err)
		return loginError(err)
	}
	return nil
}

// Logout ends the session, errors are only reported.
func (c *Client) Logout(ctx context.Context) {
	_, err := c.Submit(ctx, "/logout", nil)
	if err != nil {
		c.tel.ReportWarning(report_client_login, fmt.Errorf("logout: %w", err))
	}
}
