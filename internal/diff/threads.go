package diff

import (
	"context"
	"fmt"

	"portalbridge/internal/item"
	"portalbridge/internal/ledger"
	"portalbridge/internal/mail"
	"portalbridge/internal/render"
	"portalbridge/internal/task"
)

const (
	categoryThreads   = "threads"
	categoryInquiries = "inquiries"
)

// Threads emits every unsent message of the teacher threads. Replies carry
// Reply-To set to the reverse route of the thread when one is configured.
func Threads(threads []item.Thread, frontier ledger.Frontier, opts Options) []task.Task {
	return threadTasks(threads, frontier, categoryThreads, task.KindThread, opts)
}

// Inquiries emits every unsent message of the inquiries, they are threads
// without a portal id.
func Inquiries(inquiries []item.Thread, frontier ledger.Frontier, opts Options) []task.Task {
	return threadTasks(inquiries, frontier, categoryInquiries, task.KindInquiry, opts)
}

// threadTasks emits, per thread and in ascending position, a task for every
// message that is not marked in the frontier. All tasks of a thread share a
// group so that a failed message holds back the later ones.
func threadTasks(threads []item.Thread, frontier ledger.Frontier, category string, kind task.Kind, opts Options) []task.Task {
	var tasks []task.Task
	seenKeys := map[string]bool{}
	for _, t := range threads {
		key := t.Key()
		if seenKeys[key] {
			continue
		}
		seenKeys[key] = true

		group := fmt.Sprintf("%s/%s/%s", opts.Source, category, key)
		for i, m := range t.Messages {
			if frontier.Has(key, i) {
				continue
			}

			msg := opts.message(render.ThreadMessage(t, i))
			msg.Attachments = m.Attachments
			mail.ThreadHeaders(&msg, opts.Source, category, key, i, opts.Domain)
			if t.ID != "" && opts.ReplyTo != nil {
				msg.ReplyTo = opts.ReplyTo(t.ID)
			}

			index := i
			tasks = append(tasks, task.Task{
				Kind:    kind,
				Key:     fmt.Sprintf("%s#%d", key, index),
				Group:   group,
				Message: msg,
				Commit: func(ctx context.Context) error {
					frontier.Mark(key, index)
					return nil
				},
			})
		}
	}
	return tasks
}
