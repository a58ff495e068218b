package chrono

import (
	"testing"
	"time"

	"portalbridge/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

func TestToday(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	clock := NewFakeTime(time.Date(2024, 3, 4, 23, 30, 0, 0, time.UTC))
	require.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), Today(clock))

	// 23:30 UTC is already the next day in Berlin
	clock = NewFakeTime(time.Date(2024, 3, 4, 23, 30, 0, 0, time.UTC).In(berlin))
	require.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, berlin), Today(clock))
}

func TestValidateSpec(t *testing.T) {
	require.NoError(t, ValidateSpec("0 7 * * 1-5"))
	require.Error(t, ValidateSpec("0 7 * *"))
	require.Error(t, ValidateSpec("@every"))
}

func TestStartCron(t *testing.T) {
	clock, err := NewStandardTime("UTC")
	require.NoError(t, err)

	_, err = StartCron("not a cron", clock, telemetry.NewRecorderAPI(), func() {})
	require.Error(t, err)

	c, err := StartCron("0 7 * * *", clock, telemetry.NewRecorderAPI(), func() {})
	require.NoError(t, err)
	defer c.Stop()

	next := c.Next()
	if next.IsZero() {
		// the scheduler computes the first run asynchronously after Start
		require.Eventually(t, func() bool { return !c.Next().IsZero() }, time.Second, 10*time.Millisecond)
		next = c.Next()
	}
	require.Equal(t, 7, next.Hour())
	require.Zero(t, next.Minute())
}
