package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"portalbridge/internal/components/telemetry"
	"portalbridge/internal/mail"
	"portalbridge/internal/task"

	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	fail map[string]error
	sent []string
	at   []time.Time
}

func (f *fakeSender) Send(ctx context.Context, m mail.Message) error {
	if err := f.fail[m.Subject]; err != nil {
		return err
	}
	f.sent = append(f.sent, m.Subject)
	f.at = append(f.at, time.Now())
	return nil
}

type committed map[string]bool

func (c committed) task(kind task.Kind, subject, group string) task.Task {
	return task.Task{
		Kind:  kind,
		Key:   subject,
		Group: group,
		Message: mail.Message{
			To:      []string{"parent@example.org"},
			Subject: subject,
			Text:    "body of " + subject,
		},
		Commit: func(ctx context.Context) error {
			c[subject] = true
			return nil
		},
	}
}

func TestDrainCommitsOnlyOnSuccess(t *testing.T) {
	sender := &fakeSender{fail: map[string]error{"b": errors.New("relay rejected")}}
	tel := telemetry.NewRecorderAPI()
	pump := NewPump(sender, tel, Options{})
	c := committed{}

	var q task.Queue
	q.Push(
		c.task(task.KindAnnouncement, "a", ""),
		c.task(task.KindAnnouncement, "b", ""),
		c.task(task.KindAnnouncement, "c", ""),
	)
	report := pump.Drain(context.Background(), &q)

	require.Equal(t, []string{"a", "c"}, sender.sent)
	require.Equal(t, committed{"a": true, "c": true}, c)
	require.Equal(t, 2, report.Sent)
	require.Equal(t, 1, report.Failed)
	require.False(t, report.OK())
	require.ErrorContains(t, report.Err, "relay rejected")
	require.Len(t, tel.Broken(report_send), 1)

	require.Equal(t, 2, report.Committed)
	require.Equal(t, []string{"announcement b: relay rejected"}, report.Failures)

	summary, ok := Summary("admin@example.org", report.Failures)
	require.True(t, ok)
	require.Equal(t, task.KindSummary, summary.Kind)
	require.True(t, summary.Admin)
	require.Equal(t, []string{"admin@example.org"}, summary.Message.To)
	require.Contains(t, summary.Message.Text, "announcement b: relay rejected")
}

func TestDrainSkipsRestOfGroup(t *testing.T) {
	sender := &fakeSender{fail: map[string]error{"t1": errors.New("timeout")}}
	pump := NewPump(sender, telemetry.NewRecorderAPI(), Options{})
	c := committed{}

	var q task.Queue
	q.Push(
		c.task(task.KindThread, "t0", "portal/threads/1"),
		c.task(task.KindThread, "t1", "portal/threads/1"),
		c.task(task.KindThread, "t2", "portal/threads/1"),
		c.task(task.KindThread, "u0", "portal/threads/2"),
	)
	report := pump.Drain(context.Background(), &q)

	require.Equal(t, []string{"t0", "u0"}, sender.sent)
	require.Equal(t, committed{"t0": true, "u0": true}, c)
	require.Equal(t, 1, report.Failed)
	require.Equal(t, 1, report.Skipped)
	_, ok := Summary("", report.Failures)
	require.False(t, ok, "no summary without an admin address")
}

func TestDrainMalformed(t *testing.T) {
	sender := &fakeSender{}
	tel := telemetry.NewRecorderAPI()
	pump := NewPump(sender, tel, Options{})
	c := committed{}

	malformed := c.task(task.KindNotice, "", "")
	malformed.Key = "n1"
	var q task.Queue
	q.Push(malformed)
	report := pump.Drain(context.Background(), &q)

	require.Empty(t, sender.sent)
	require.Empty(t, c)
	require.Equal(t, 1, report.Failed)
	require.ErrorIs(t, report.Err, mail.ErrMalformed)
	require.Len(t, tel.Broken(report_malformed), 1)
	require.Len(t, report.Failures, 1)
}

func TestDrainCommitFailureKeepsSend(t *testing.T) {
	sender := &fakeSender{}
	tel := telemetry.NewRecorderAPI()
	pump := NewPump(sender, tel, Options{})

	tk := committed{}.task(task.KindAnnouncement, "a", "")
	tk.Commit = func(ctx context.Context) error {
		return errors.New("confirm button missing")
	}
	var q task.Queue
	q.Push(tk)
	report := pump.Drain(context.Background(), &q)

	require.Equal(t, []string{"a"}, sender.sent)
	require.Equal(t, 1, report.Sent)
	require.Equal(t, 1, report.CommitFailed)
	require.Equal(t, 1, report.Committed)
	require.NoError(t, report.Err)
	require.Empty(t, report.Failures)
	require.Len(t, tel.Broken(report_commit), 1)
}

func TestDrainAdminFailureDoesNotRecurse(t *testing.T) {
	sender := &fakeSender{fail: map[string]error{"summary": errors.New("relay down")}}
	pump := NewPump(sender, telemetry.NewRecorderAPI(), Options{})

	var q task.Queue
	q.Push(task.Alert("admin@example.org", "summary", "3 failures"))
	report := pump.Drain(context.Background(), &q)

	require.Equal(t, 1, report.AdminFailed)
	require.Equal(t, 0, report.Failed)
	require.NoError(t, report.Err)
	require.Empty(t, report.Failures)
}

func TestDrainDelay(t *testing.T) {
	sender := &fakeSender{}
	pump := NewPump(sender, telemetry.NewRecorderAPI(), Options{Delay: 50 * time.Millisecond})
	c := committed{}

	var q task.Queue
	q.Push(c.task(task.KindNotice, "a", ""), c.task(task.KindNotice, "b", ""), c.task(task.KindNotice, "c", ""))
	start := time.Now()
	pump.Drain(context.Background(), &q)

	require.Len(t, sender.at, 3)
	require.GreaterOrEqual(t, sender.at[2].Sub(start), 90*time.Millisecond)
	require.Less(t, sender.at[0].Sub(start), 40*time.Millisecond, "the first send is not delayed")
}

func TestDrainAlertsCommitNothing(t *testing.T) {
	sender := &fakeSender{}
	pump := NewPump(sender, telemetry.NewRecorderAPI(), Options{})

	var q task.Queue
	q.Push(task.Alert("admin@example.org", "portal down", "could not log in"))
	report := pump.Drain(context.Background(), &q)

	require.Equal(t, 1, report.Sent)
	require.Zero(t, report.Committed)
}

func TestSummaryNeedsFailures(t *testing.T) {
	_, ok := Summary("admin@example.org", nil)
	require.False(t, ok)
}
