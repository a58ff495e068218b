package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

func TestScopedAPIPrefixesIds(t *testing.T) {
	rec := NewRecorderAPI()
	tel := NewScopedAPI("portal_scraper", NewMeteredAPI(rec))

	tel.ReportBroken("client.login", errors.New("rejected"))
	tel.ReportWarning("client.navigate")
	tel.ReportCount("posts", 3)

	require.Equal(t, []string{"portal_scraper: client.login"}, rec.Broken("client"))
	require.Empty(t, rec.Broken("navigate"))
}

func TestInstrumentResty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	rec := NewRecorderAPI()
	client := resty.New()
	InstrumentResty(client, rec)

	res, err := client.R().Get(srv.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusTeapot, res.StatusCode())
	require.Empty(t, rec.Broken(""))

	srv.Close()
	_, err = client.R().Get(srv.URL)
	require.Error(t, err)
	require.Equal(t, []string{report_resty}, rec.Broken(report_resty))
}

func TestSlogAttrs(t *testing.T) {
	var got []string
	for _, a := range attrs([]any{errors.New("boom"), "url", "https://portal.example.org", 42, "dangling"}) {
		got = append(got, a.String())
	}
	require.Equal(t, []string{
		"err=boom",
		"url=https://portal.example.org",
		"p3=42",
		"p4=dangling",
	}, got)
}
