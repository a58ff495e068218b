package diff

import (
	"context"

	"portalbridge/internal/item"
	"portalbridge/internal/ledger"
	"portalbridge/internal/mail"
	"portalbridge/internal/render"
	"portalbridge/internal/task"
	"portalbridge/pkg/textutil"
)

const categoryNotices = "notices"

// Notices emits one task per notice whose rendered text was not seen before,
// oldest first. An edited notice therefore counts as a new one.
func Notices(items []item.Notice, seen ledger.Set, opts Options) []task.Task {
	ordered := chronological(items, func(n item.Notice) int64 {
		return n.Date.UnixMilli()
	})

	var tasks []task.Task
	emitted := map[string]bool{}
	for _, n := range ordered {
		hash := textutil.Hash(render.NoticeText(n))
		if seen.Has(hash) || emitted[hash] {
			continue
		}
		emitted[hash] = true

		msg := opts.message(render.Notice(n))
		msg.MessageID = mail.ThreadID(opts.Source, categoryNotices, hash[:16], 0, opts.Domain)

		tasks = append(tasks, task.Task{
			Kind:    task.KindNotice,
			Key:     hash,
			Message: msg,
			Commit: func(ctx context.Context) error {
				seen.Add(hash)
				return nil
			},
		})
	}
	return tasks
}
