package render

import (
	"strings"
	"testing"
	"time"

	"portalbridge/internal/item"

	"github.com/stretchr/testify/require"
)

var monday = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func TestAnnouncementFromMarkup(t *testing.T) {
	body := Announcement(item.Announcement{
		Title:  "Field trip",
		Author: "Ms. Frizzle",
		Date:   monday.Add(9 * time.Hour),
		HTML:   "<p>Bring <b>lunch</b>.</p><p>Bus leaves at 8.</p>",
	})
	require.Equal(t, "Field trip", body.Subject)
	require.Contains(t, body.Text, "Ms. Frizzle, Mon 04.03.2024 09:00")
	require.Contains(t, body.Text, "Bring lunch.\nBus leaves at 8.")
	require.NotContains(t, body.Text, "<b>")
	require.Contains(t, body.HTML, "<h2>Field trip</h2>")
}

func TestThreadMessageSubject(t *testing.T) {
	thread := item.Thread{
		Subject:  "Homework",
		Messages: []item.Message{{Author: "a", Body: "one"}, {Author: "b", Body: "two <3"}},
	}
	require.Equal(t, "Homework", ThreadMessage(thread, 0).Subject)
	second := ThreadMessage(thread, 1)
	require.Equal(t, "Re: Homework", second.Subject)
	require.Contains(t, second.HTML, "two &lt;3")
}

func TestDayIsStable(t *testing.T) {
	day := item.Day{
		Date: monday,
		Rows: []item.Substitution{{Class: "5a", Period: "3", Subject: "Math", Teacher: "Smith", Room: "101"}},
	}
	require.Equal(t, Day(day), Day(day))

	changed := day
	changed.Rows = []item.Substitution{{Class: "5a", Period: "3", Subject: "Math", Teacher: "Smith", Room: "102"}}
	require.NotEqual(t, Day(day), Day(changed))

	require.Contains(t, Day(item.Day{Date: monday}), "no substitutions")
}

func TestSubstitutionsMarksUpdated(t *testing.T) {
	days := []item.Day{
		{Date: monday, Rows: []item.Substitution{{Class: "5a", Subject: "Math"}}},
		{Date: monday.Add(24 * time.Hour), Rows: []item.Substitution{{Class: "6b", Subject: "Art"}}},
	}
	body := Substitutions(days, []bool{false, true})
	require.Contains(t, body.Text, "== Mon 04.03.2024 ==")
	require.Contains(t, body.Text, "== Tue 05.03.2024 [updated] ==")
	require.Equal(t, 1, strings.Count(body.Text, "[updated]"))
	require.Contains(t, body.HTML, "<table")
}

func TestEvents(t *testing.T) {
	body := Events([]EventEntry{
		{Event: item.Event{Title: "Sports day", Date: monday}, Status: StatusNew},
		{Event: item.Event{Title: "Concert", Date: monday.Add(48 * time.Hour)}, Status: StatusRemoved},
	})
	require.Contains(t, body.Text, "Sports day")
	require.Contains(t, body.Text, "new")
	require.Contains(t, body.Text, "removed")
	require.Less(t, strings.Index(body.Text, "Sports day"), strings.Index(body.Text, "Concert"))
}

func TestSummary(t *testing.T) {
	body := Summary([]string{"announcement 5: connection refused"})
	require.Contains(t, body.Subject, "1 notification(s)")
	require.Contains(t, body.Text, "- announcement 5: connection refused")
}
