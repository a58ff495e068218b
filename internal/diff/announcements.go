package diff

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"portalbridge/internal/item"
	"portalbridge/internal/ledger"
	"portalbridge/internal/mail"
	"portalbridge/internal/render"
	"portalbridge/internal/task"
)

const categoryAnnouncements = "announcements"

// chronological returns a copy of items (scraped newest first) ordered oldest
// first. Items with equal dates keep the reversed scrape order.
func chronological[T any](items []T, date func(T) int64) []T {
	out := slices.Clone(items)
	slices.Reverse(out)
	sort.SliceStable(out, func(i, j int) bool {
		return date(out[i]) < date(out[j])
	})
	return out
}

// Announcements emits one task per announcement whose id is not in seen,
// oldest first. The commit runs the portal confirmation before marking the
// announcement, when the confirmation fails the ledger is left untouched and
// the announcement is sent again next time.
func Announcements(items []item.Announcement, seen ledger.Set, opts Options) []task.Task {
	ordered := chronological(items, func(a item.Announcement) int64 {
		return a.Date.UnixMilli()
	})

	var tasks []task.Task
	emitted := map[string]bool{}
	for _, a := range ordered {
		if a.ID == "" || seen.Has(a.ID) || emitted[a.ID] {
			continue
		}
		emitted[a.ID] = true

		msg := opts.message(render.Announcement(a))
		msg.Attachments = a.Attachments
		msg.MessageID = mail.ThreadID(opts.Source, categoryAnnouncements, a.ID, 0, opts.Domain)

		id := a.ID
		confirm := a.Confirm
		tasks = append(tasks, task.Task{
			Kind:    task.KindAnnouncement,
			Key:     id,
			Message: msg,
			Commit: func(ctx context.Context) error {
				if confirm != nil {
					err := confirm(ctx)
					if err != nil {
						return fmt.Errorf("confirm announcement %s: %w", id, err)
					}
				}
				seen.Add(id)
				return nil
			},
		})
	}
	return tasks
}
