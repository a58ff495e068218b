package task

import (
	"context"

	"portalbridge/internal/mail"
)

type Kind string

const (
	KindAnnouncement Kind = "announcement"
	KindInquiry      Kind = "inquiry"
	KindThread       Kind = "thread"
	KindSubstitution Kind = "substitution"
	KindNotice       Kind = "notice"
	KindEvent        Kind = "event"
	KindAlert        Kind = "alert"
	KindSummary      Kind = "summary"
)

// Task is a pending outbound email together with the ledger mutation that
// records it as sent. Commit must only run after the message was delivered.
type Task struct {
	Kind Kind
	// Key identifies the item within its kind, it is used for logs.
	Key string
	// Group orders tasks that depend on each other (messages of one thread),
	// once a task of a group fails the later tasks of that group are skipped.
	// An empty group means the task is independent.
	Group string
	// Admin tasks are addressed to the administrator, their failures are
	// only logged.
	Admin   bool
	Message mail.Message
	Commit  func(ctx context.Context) error
}

// Run executes the commit of the task, tasks without a commit succeed.
func (t Task) Run(ctx context.Context) error {
	if t.Commit == nil {
		return nil
	}
	return t.Commit(ctx)
}

// Alert creates an admin notification without a ledger mutation.
func Alert(admin, subject, text string) Task {
	return Task{
		Kind:  KindAlert,
		Key:   subject,
		Admin: true,
		Message: mail.Message{
			To:      []string{admin},
			Subject: subject,
			Text:    text,
		},
	}
}

// Queue is the append-ordered list of tasks of one iteration.
type Queue struct {
	tasks []Task
}

func (q *Queue) Push(tasks ...Task) {
	q.tasks = append(q.tasks, tasks...)
}

func (q *Queue) Len() int {
	return len(q.tasks)
}

// Tasks returns the queued tasks in push order.
func (q *Queue) Tasks() []Task {
	return q.tasks
}
