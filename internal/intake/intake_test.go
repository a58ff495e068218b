package intake

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"portalbridge/internal/components/telemetry"
	"portalbridge/internal/task"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMailbox struct {
	mu       sync.Mutex
	messages []Inbound
	marked   []string
	fetchErr error
	markErr  error
}

func (f *fakeMailbox) Fetch(context.Context) ([]Inbound, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []Inbound
	for _, m := range f.messages {
		flagged := false
		for _, ref := range f.marked {
			if ref == m.Ref {
				flagged = true
			}
		}
		if !flagged {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMailbox) MarkProcessed(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, ref)
	return nil
}

func (f *fakeMailbox) Marked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.marked...)
}

type postCall struct {
	Op     string
	Target string
	Body   string
}

type fakePoster struct {
	teachers []Teacher
	calls    []postCall
	nextID   string
}

func (f *fakePoster) NewThread(_ context.Context, teacherID, _, body string) (string, error) {
	f.calls = append(f.calls, postCall{Op: "new", Target: teacherID, Body: body})
	return f.nextID, nil
}

func (f *fakePoster) Reply(_ context.Context, threadID, body string) error {
	f.calls = append(f.calls, postCall{Op: "reply", Target: threadID, Body: body})
	return nil
}

func (f *fakePoster) Teachers(context.Context) ([]Teacher, error) {
	return f.teachers, nil
}

func TestParseAddress(t *testing.T) {
	a, err := ParseAddress(`"Anna Parent" <Bridge+T42@Example.ORG>`)
	require.NoError(t, err)
	assert.Equal(t, Address{Local: "bridge", Tag: "T42", Domain: "example.org"}, a)
	assert.Equal(t, "bridge@example.org", a.Base())
	assert.Equal(t, "bridge+x@example.org", a.WithTag("x"))

	route, err := ParseAddress("bridge@example.org")
	require.NoError(t, err)
	assert.True(t, a.Routes(route))
	assert.False(t, route.Routes(route), "an untagged address is not routed")

	_, err = ParseAddress("not an address")
	assert.Error(t, err)
}

func TestParseTag(t *testing.T) {
	cases := map[string]Target{
		"t42":          {Kind: TargetThread, Value: "42"},
		"T7":           {Kind: TargetThread, Value: "7"},
		"1234":         {Kind: TargetTeacherID, Value: "1234"},
		"anna.schmidt": {Kind: TargetTeacherName, Value: "anna schmidt"},
		"anna_b-c":     {Kind: TargetTeacherName, Value: "anna b c"},
		"tom":          {Kind: TargetTeacherName, Value: "tom"},
	}
	for tag, expected := range cases {
		assert.Equal(t, expected, ParseTag(tag), tag)
	}
	assert.Equal(t, Target{Kind: TargetThread, Value: "99"}, ParseTag(ThreadTag("99")))
}

func TestSplit(t *testing.T) {
	assert.Equal(t, []string{"short"}, Split("  short \n", 100))

	body := strings.Repeat("word ", 60)
	chunks := Split(body, 50)
	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 50)
		assert.True(t, strings.HasPrefix(c, "["), c)
		assert.NotContains(t, c, "wor ", "cuts happen at whitespace")
		if i == 0 {
			assert.True(t, strings.HasPrefix(c, "[1/"), c)
		}
	}

	var joined []string
	for _, c := range chunks {
		joined = append(joined, c[strings.Index(c, "] ")+2:])
	}
	assert.Equal(t, strings.TrimSpace(body), strings.Join(joined, " "))
}

func TestSplitCountsRunes(t *testing.T) {
	body := strings.Repeat("ü", 30)
	assert.Equal(t, []string{body}, Split(body, 30))

	chunks := Split(strings.Repeat("ä", 100), 20)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 20)
	}
}

func TestCleanSubject(t *testing.T) {
	assert.Equal(t, "Homework", CleanSubject("Re: AW: Homework"))
	assert.Equal(t, "Homework", CleanSubject("Fwd:Homework"))
	assert.Equal(t, "(no subject)", CleanSubject(" re: "))
}

func TestStripQuote(t *testing.T) {
	text := "Thanks, see you tomorrow.\n\nOn Mon, 4 Mar 2024 at 10:00, Teacher <t@example.org> wrote:\n> Please bring the form.\n"
	assert.Equal(t, "Thanks, see you tomorrow.", StripQuote(text))

	assert.Equal(t, "Ok", StripQuote("Ok\r\n> quoted\r\n>\r\n"))
	assert.Equal(t, "", StripQuote("> only quote"))
	assert.Equal(t, "a\n> inline\nb", StripQuote("a\n> inline\nb"))
}

func newTestProcessor(t *testing.T, mailbox Mailbox) *Processor {
	t.Helper()
	p, err := NewProcessor(mailbox, telemetry.NewRecorderAPI(), ProcessorOptions{
		Route:    "bridge@example.org",
		Allow:    []string{"parent@example.org"},
		Capacity: 500,
		Admin:    "admin@example.org",
	})
	require.NoError(t, err)
	return p
}

func TestProcessorPoll(t *testing.T) {
	mailbox := &fakeMailbox{messages: []Inbound{
		{Ref: "1", From: "Parent <parent@example.org>", To: []string{"bridge+t42@example.org"}, Subject: "Re: Trip", Text: "Yes.\n> quoted"},
		{Ref: "2", From: "parent@example.org", To: []string{"someone@example.org"}, Text: "unrelated"},
		{Ref: "3", From: "stranger@example.org", To: []string{"bridge+t42@example.org"}, Subject: "spam", Text: "hi"},
		{Ref: "4", From: "parent@example.org", To: []string{"bridge+1234@example.org", "bridge+t5@example.org", "bridge+t5@example.org"}, Text: "To both"},
	}}
	p := newTestProcessor(t, mailbox)

	res, err := p.Poll(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Posts, 3)
	assert.Equal(t, Target{Kind: TargetThread, Value: "42"}, res.Posts[0].Target)
	assert.Equal(t, "Trip", res.Posts[0].Subject)
	assert.Equal(t, []string{"Yes."}, res.Posts[0].Chunks)
	assert.Equal(t, "1", res.Posts[0].Source())
	assert.Equal(t, Target{Kind: TargetTeacherID, Value: "1234"}, res.Posts[1].Target)
	assert.Equal(t, Target{Kind: TargetThread, Value: "5"}, res.Posts[2].Target)

	require.Len(t, res.Alerts, 1)
	assert.Equal(t, task.KindAlert, res.Alerts[0].Kind)
	assert.Equal(t, []string{"admin@example.org"}, res.Alerts[0].Message.To)
	assert.Equal(t, 2, res.Ignored)
	assert.ElementsMatch(t, []string{"2", "3"}, mailbox.Marked())

	again, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, again.Posts, "claimed messages are not dispatched twice")
}

func TestProcessorWithoutRouteFlagsEverything(t *testing.T) {
	mailbox := &fakeMailbox{messages: []Inbound{
		{Ref: "1", From: "parent@example.org", To: []string{"bridge+t42@example.org"}, Text: "x"},
	}}
	p, err := NewProcessor(mailbox, telemetry.NewRecorderAPI(), ProcessorOptions{Capacity: 10})
	require.NoError(t, err)
	assert.Equal(t, "", p.ReplyTo("42"))

	res, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Posts)
	assert.Equal(t, []string{"1"}, mailbox.Marked())
}

func TestProcessorFetchError(t *testing.T) {
	tel := telemetry.NewRecorderAPI()
	p, err := NewProcessor(&fakeMailbox{fetchErr: errors.New("imap down")}, tel, ProcessorOptions{Capacity: 10})
	require.NoError(t, err)
	_, err = p.Poll(context.Background())
	require.Error(t, err)
	assert.NotEmpty(t, tel.Broken(report_fetch))
}

func TestProcessorReplyTo(t *testing.T) {
	p := newTestProcessor(t, &fakeMailbox{})
	assert.Equal(t, "bridge+t42@example.org", p.ReplyTo("42"))
}

func pollOne(t *testing.T, mailbox *fakeMailbox) (*Processor, Post) {
	t.Helper()
	p := newTestProcessor(t, mailbox)
	res, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Posts, 1)
	return p, res.Posts[0]
}

func TestDeliverReplyInChunks(t *testing.T) {
	mailbox := &fakeMailbox{messages: []Inbound{{
		Ref: "1", From: "parent@example.org", To: []string{"bridge+t42@example.org"},
		Text: strings.Repeat("lorem ipsum ", 100),
	}}}
	_, post := pollOne(t, mailbox)
	require.Greater(t, len(post.Chunks), 1)

	poster := &fakePoster{}
	require.NoError(t, Deliver(context.Background(), poster, post))
	require.Len(t, poster.calls, len(post.Chunks))
	for i, c := range poster.calls {
		assert.Equal(t, "reply", c.Op)
		assert.Equal(t, "42", c.Target)
		assert.Equal(t, post.Chunks[i], c.Body)
	}
	assert.Equal(t, []string{"1"}, mailbox.Marked())
}

func TestDeliverNewThreadByName(t *testing.T) {
	mailbox := &fakeMailbox{messages: []Inbound{{
		Ref: "1", From: "parent@example.org", To: []string{"bridge+bernd.schmidt@example.org"},
		Subject: "Question", Text: "Hello",
	}}}
	_, post := pollOne(t, mailbox)

	poster := &fakePoster{
		nextID:   "77",
		teachers: []Teacher{{ID: "1", Name: "Anna Meier"}, {ID: "2", Name: "Bernd Schmidt"}},
	}
	require.NoError(t, Deliver(context.Background(), poster, post))
	require.Equal(t, []postCall{{Op: "new", Target: "2", Body: "Hello"}}, poster.calls)
}

func TestDeliverUnknownNameFlagsSource(t *testing.T) {
	mailbox := &fakeMailbox{messages: []Inbound{{
		Ref: "1", From: "parent@example.org", To: []string{"bridge+nobody.known@example.org"}, Text: "Hello",
	}}}
	_, post := pollOne(t, mailbox)

	poster := &fakePoster{teachers: []Teacher{{ID: "1", Name: "Anna Meier"}}}
	err := Deliver(context.Background(), poster, post)
	require.ErrorIs(t, err, ErrNoRoute)
	assert.Empty(t, poster.calls)
	assert.Equal(t, []string{"1"}, mailbox.Marked())
}

func TestDeliverFailureAfterFlagIsNotRetried(t *testing.T) {
	mailbox := &fakeMailbox{messages: []Inbound{{
		Ref: "1", From: "parent@example.org", To: []string{"bridge+t42@example.org"}, Text: "Hello",
	}}}
	p, post := pollOne(t, mailbox)

	err := Deliver(context.Background(), &failingPoster{}, post)
	require.Error(t, err)
	assert.Equal(t, []string{"1"}, mailbox.Marked())

	res, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Posts)
}

func TestReleaseMakesMessageAvailableAgain(t *testing.T) {
	mailbox := &fakeMailbox{messages: []Inbound{{
		Ref: "1", From: "parent@example.org", To: []string{"bridge+t1@example.org", "bridge+t2@example.org"}, Text: "Hello",
	}}}
	p := newTestProcessor(t, mailbox)
	res, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Posts, 2)

	res.Posts[0].Release()
	again, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, again.Posts, "one holder is left")

	res.Posts[1].Release()
	again, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Len(t, again.Posts, 2)
	assert.Empty(t, mailbox.Marked())
}

func TestMarkerMarksOnce(t *testing.T) {
	mailbox := &fakeMailbox{}
	done := 0
	m := newMarker(mailbox, "1", 2, func(string) { done++ })
	require.NoError(t, m.Mark(context.Background()))
	require.NoError(t, m.Mark(context.Background()))
	m.Release()
	assert.True(t, m.Marked())
	assert.Equal(t, []string{"1"}, mailbox.Marked())
	assert.Equal(t, 1, done)
}

type failingPoster struct{}

func (failingPoster) NewThread(context.Context, string, string, string) (string, error) {
	return "", errors.New("portal unavailable")
}

func (failingPoster) Reply(context.Context, string, string) error {
	return errors.New("portal unavailable")
}

func (failingPoster) Teachers(context.Context) ([]Teacher, error) {
	return nil, nil
}

func TestOutboxTake(t *testing.T) {
	o := NewOutbox()
	assert.False(t, o.Pending())

	o.Push(Post{Chunks: []string{"a"}})
	o.PushAlerts(task.Alert("admin@example.org", "s", "t"))
	assert.True(t, o.Pending())
	select {
	case <-o.Notify():
	default:
		t.Fatal("push must signal")
	}

	posts, alerts := o.Take()
	assert.Len(t, posts, 1)
	assert.Len(t, alerts, 1)
	assert.False(t, o.Pending())

	posts, alerts = o.Take()
	assert.Empty(t, posts)
	assert.Empty(t, alerts)
}
