package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// SlogAPI implements API on the default slog logger.
//
// Params that form key/value pairs (a string followed by a value) are logged
// as attributes, errors under "err", anything else positionally.
type SlogAPI struct{}

func attrs(params []any) []slog.Attr {
	out := make([]slog.Attr, 0, len(params))
	for i := 0; i < len(params); i++ {
		switch p := params[i].(type) {
		case slog.Attr:
			out = append(out, p)
		case error:
			out = append(out, slog.String("err", p.Error()))
		case string:
			if i+1 < len(params) {
				out = append(out, slog.Any(p, params[i+1]))
				i++
				continue
			}
			out = append(out, slog.String(fmt.Sprintf("p%d", i), p))
		default:
			out = append(out, slog.Any(fmt.Sprintf("p%d", i), p))
		}
	}
	return out
}

func (SlogAPI) log(level slog.Level, msg string, id string, params []any) {
	a := attrs(params)
	if id != "" {
		a = append([]slog.Attr{slog.String("id", id)}, a...)
	}
	slog.LogAttrs(context.Background(), level, msg, a...)
}

func (s SlogAPI) ReportBroken(id string, params ...any) {
	s.log(slog.LevelError, "broken", id, params)
}

func (s SlogAPI) ReportWarning(id string, params ...any) {
	s.log(slog.LevelWarn, "warning", id, params)
}

func (s SlogAPI) ReportDebug(msg string, params ...any) {
	s.log(slog.LevelDebug, msg, "", params)
}

func (s SlogAPI) ReportCount(id string, count int64) {
	s.log(slog.LevelInfo, "count", id, []any{"n", count})
}

// InitSlog installs the default handler: JSON at info level, or text at debug
// level when debug is set.
func InitSlog(debug bool) {
	var handler slog.Handler
	if debug {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	slog.SetDefault(slog.New(handler).With("service", "portalbridge"))
}
