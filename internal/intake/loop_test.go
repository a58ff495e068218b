package intake

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"portalbridge/internal/components/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmailv1 "google.golang.org/api/gmail/v1"
)

type chanWatcher struct {
	mu     sync.Mutex
	notify func()
	ready  chan struct{}
}

func (w *chanWatcher) Watch(ctx context.Context, notify func()) error {
	w.mu.Lock()
	w.notify = notify
	w.mu.Unlock()
	close(w.ready)
	<-ctx.Done()
	return nil
}

func (w *chanWatcher) push() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.notify()
}

func TestLoopPollsOnPushAndTrigger(t *testing.T) {
	mailbox := &fakeMailbox{}
	p := newTestProcessor(t, mailbox)
	outbox := NewOutbox()
	watcher := &chanWatcher{ready: make(chan struct{})}
	loop := NewLoop(p, watcher, outbox, telemetry.NewRecorderAPI())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = loop.Run(ctx)
		close(done)
	}()

	<-watcher.ready
	mailbox.mu.Lock()
	mailbox.messages = append(mailbox.messages, Inbound{
		Ref: "1", From: "parent@example.org", To: []string{"bridge+t42@example.org"}, Text: "pushed",
	})
	mailbox.mu.Unlock()
	watcher.push()

	require.Eventually(t, outbox.Pending, time.Second, 10*time.Millisecond)
	posts, _ := outbox.Take()
	require.Len(t, posts, 1)
	assert.Equal(t, []string{"pushed"}, posts[0].Chunks)

	mailbox.mu.Lock()
	mailbox.messages = append(mailbox.messages, Inbound{
		Ref: "2", From: "parent@example.org", To: []string{"bridge+t42@example.org"}, Text: "triggered",
	})
	mailbox.mu.Unlock()
	loop.Trigger()

	require.Eventually(t, outbox.Pending, time.Second, 10*time.Millisecond)
	posts, _ = outbox.Take()
	require.Len(t, posts, 1)
	assert.Equal(t, "2", posts[0].Source())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

func encode(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func TestInboundFromGmail(t *testing.T) {
	msg := &gmailv1.Message{
		Id:           "abc",
		InternalDate: 1709546400000,
		Payload: &gmailv1.MessagePart{
			MimeType: "multipart/alternative",
			Headers: []*gmailv1.MessagePartHeader{
				{Name: "From", Value: "Parent <parent@example.org>"},
				{Name: "To", Value: "Bridge <bridge+t42@example.org>, other@example.org"},
				{Name: "Cc", Value: "cc@example.org"},
				{Name: "Subject", Value: "Re: Trip"},
			},
			Parts: []*gmailv1.MessagePart{
				{MimeType: "text/html", Body: &gmailv1.MessagePartBody{Data: encode("<p>html</p>")}},
				{MimeType: "text/plain", Body: &gmailv1.MessagePartBody{Data: encode("plain body?")}},
			},
		},
	}

	in := inboundFromGmail(msg)
	assert.Equal(t, "abc", in.Ref)
	assert.Equal(t, "Parent <parent@example.org>", in.From)
	assert.Equal(t, "Re: Trip", in.Subject)
	assert.Equal(t, []string{"bridge+t42@example.org", "other@example.org", "cc@example.org"}, in.To)
	assert.Equal(t, "plain body?", in.Text)
	assert.Equal(t, int64(1709546400), in.Date.Unix())
}

func TestInboundFromGmailFallsBackToHTML(t *testing.T) {
	msg := &gmailv1.Message{
		Id: "abc",
		Payload: &gmailv1.MessagePart{
			MimeType: "text/html",
			Body:     &gmailv1.MessagePartBody{Data: encode("<div>Hello <b>there</b></div>")},
		},
	}
	assert.Equal(t, "Hello there", inboundFromGmail(msg).Text)
}

func TestDecodeBase64URL(t *testing.T) {
	assert.Equal(t, "a?b", decodeBase64URL(base64.URLEncoding.EncodeToString([]byte("a?b"))))
	assert.Equal(t, "a?b", decodeBase64URL(encode("a?b")))
	assert.Equal(t, "", decodeBase64URL("%%%"))
}
