package item

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestThreadKey(t *testing.T) {
	require.Equal(t, "77", Thread{ID: "77"}.Key())

	date := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	inquiry := Thread{Subject: "Sick note", Messages: []Message{{Date: date, Body: "a"}}}
	grown := inquiry
	grown.Messages = append(grown.Messages, Message{Date: date.Add(time.Hour), Body: "b"})
	require.Equal(t, inquiry.Key(), grown.Key(), "answers must not change the key")

	other := Thread{Subject: "Sick note", Messages: []Message{{Date: date.Add(24 * time.Hour)}}}
	require.NotEqual(t, inquiry.Key(), other.Key())
}

func TestEventID(t *testing.T) {
	require.Equal(t, "a", Event{Key: "a"}.ID())

	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	a := Event{Title: "Parents evening", Date: date}
	require.Equal(t, "2024-03-01 Parents evening", a.ID())
	require.Equal(t, "2024-03-01 Parents evening @ Hall", Event{Title: "Parents evening ", Date: date, Location: "Hall"}.ID())
	require.Equal(t, a.ID(), Event{Title: "Parents evening", Date: date}.ID())
	require.NotEqual(t, a.ID(), Event{Title: "Parents evening", Date: date.Add(24 * time.Hour)}.ID())
}
