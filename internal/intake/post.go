package intake

import (
	"context"
	"errors"
	"fmt"

	"portalbridge/pkg/textutil"
)

// TeacherMatchThreshold is the minimum Jaro-Winkler similarity for a tag to
// resolve to a teacher name.
const TeacherMatchThreshold = 0.85

// Post is a pending portal message produced from one inbound email.
type Post struct {
	Target  Target
	Subject string
	Chunks  []string
	// From is the sender of the source email.
	From   string
	marker *Marker
}

// Source returns the mailbox reference of the source email.
func (p Post) Source() string {
	if p.marker == nil {
		return ""
	}
	return p.marker.Ref()
}

// Release gives up a post that will not be delivered in this process.
func (p Post) Release() {
	if p.marker != nil {
		p.marker.Release()
	}
}

func resolveTeacher(ctx context.Context, poster Poster, target Target) (string, error) {
	if target.Kind == TargetTeacherID {
		return target.Value, nil
	}
	teachers, err := poster.Teachers(ctx)
	if err != nil {
		return "", fmt.Errorf("list teachers: %w", err)
	}
	names := make([]string, len(teachers))
	for i, t := range teachers {
		names[i] = t.Name
	}
	match, ok := textutil.BestMatch(target.Value, names, TeacherMatchThreshold)
	if !ok {
		return "", fmt.Errorf("%w: no teacher matches %q", ErrNoRoute, target.Value)
	}
	return teachers[match.Index].ID, nil
}

// Deliver posts every chunk of p. The source email is flagged processed right
// before the first chunk is sent, even though that chunk may still fail: a
// partially posted message is never posted twice.
//
// An unresolvable teacher name flags the source as well and returns an error
// wrapping ErrNoRoute. Any other failure before the first chunk releases the
// source so that it is picked up again.
func Deliver(ctx context.Context, poster Poster, p Post) error {
	if len(p.Chunks) == 0 {
		p.Release()
		return fmt.Errorf("post from %s has no content", p.From)
	}

	threadID := ""
	teacherID := ""
	switch p.Target.Kind {
	case TargetThread:
		threadID = p.Target.Value
	default:
		var err error
		teacherID, err = resolveTeacher(ctx, poster, p.Target)
		if err != nil {
			if p.marker != nil && errors.Is(err, ErrNoRoute) {
				markErr := p.marker.Mark(ctx)
				if markErr != nil {
					return fmt.Errorf("%w (and flagging the source failed: %s)", err, markErr.Error())
				}
				return err
			}
			p.Release()
			return err
		}
	}

	if p.marker != nil {
		err := p.marker.Mark(ctx)
		if err != nil {
			return fmt.Errorf("flag source %s: %w", p.marker.Ref(), err)
		}
	}

	first := p.Chunks[0]
	if threadID == "" {
		var err error
		threadID, err = poster.NewThread(ctx, teacherID, p.Subject, first)
		if err != nil {
			return fmt.Errorf("post first chunk: %w", err)
		}
	} else {
		err := poster.Reply(ctx, threadID, first)
		if err != nil {
			return fmt.Errorf("post first chunk: %w", err)
		}
	}

	for i, chunk := range p.Chunks[1:] {
		err := poster.Reply(ctx, threadID, chunk)
		if err != nil {
			return fmt.Errorf("post chunk %d/%d to thread %s: %w", i+2, len(p.Chunks), threadID, err)
		}
	}
	return nil
}
