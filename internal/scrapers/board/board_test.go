package board

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"portalbridge/internal/components/chrono"
	"portalbridge/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, body string) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)
	return server.URL
}

var clock = chrono.NewFakeTime(time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC))

func TestNotices(t *testing.T) {
	link := serve(t, `<div class="board">
<div class="board-entry"><h3>Canteen closed</h3><span class="date">04.03.2024</span><div class="content"><p>Closed on Friday.</p></div></div>
<div class="board-entry"><h3>Undated</h3><div class="content">Someday</div></div>
</div>`)
	tel := telemetry.NewRecorderAPI()
	notices, err := NewClient(link, clock, tel).Notices(context.Background())
	require.NoError(t, err)
	require.Len(t, notices, 2)

	require.Equal(t, "Canteen closed", notices[0].Title)
	require.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), notices[0].Date)
	require.Equal(t, "Closed on Friday.", notices[0].Body)
	require.True(t, notices[1].Date.IsZero())
}

func TestNoticesEmptyBoard(t *testing.T) {
	notices, err := NewClient(serve(t, `<div class="board"></div>`), clock, telemetry.NewRecorderAPI()).Notices(context.Background())
	require.NoError(t, err)
	require.Empty(t, notices)
}

func TestNoticesMissingBoard(t *testing.T) {
	tel := telemetry.NewRecorderAPI()
	_, err := NewClient(serve(t, `<html><body>maintenance</body></html>`), clock, tel).Notices(context.Background())
	require.Error(t, err)
	require.NotEmpty(t, tel.Broken(report_client_notices))
}
