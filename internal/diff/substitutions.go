package diff

import (
	"context"
	"strings"

	"portalbridge/internal/item"
	"portalbridge/internal/ledger"
	"portalbridge/internal/render"
	"portalbridge/internal/task"
	"portalbridge/pkg/textutil"
)

// Substitutions treats the plan as one document: when no day changed nothing
// is sent, otherwise a single task carries every current day with the changed
// ones marked. Days before opts.Today are no longer current.
func Substitutions(days []item.Day, seen ledger.Set, opts Options) []task.Task {
	var current []item.Day
	for _, d := range days {
		if !d.Date.IsZero() && d.Date.Before(opts.Today) {
			continue
		}
		current = append(current, d)
	}

	updated := make([]bool, len(current))
	var changed []string
	for i, d := range current {
		hash := textutil.Hash(render.Day(d))
		if seen.Has(hash) {
			continue
		}
		updated[i] = true
		changed = append(changed, hash)
	}
	if len(changed) == 0 {
		return nil
	}

	keys := make([]string, len(changed))
	for i, h := range changed {
		keys[i] = h[:12]
	}

	return []task.Task{{
		Kind:    task.KindSubstitution,
		Key:     strings.Join(keys, ","),
		Message: opts.message(render.Substitutions(current, updated)),
		Commit: func(ctx context.Context) error {
			for _, h := range changed {
				seen.Add(h)
			}
			return nil
		},
	}}
}
