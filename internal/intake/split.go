package intake

import (
	"fmt"
	"strings"
	"unicode"
)

// Split cuts body into chunks of at most capacity runes. When more than one
// chunk is needed each one is prefixed with "[n/N] " (the prefix counts
// against the capacity). Cuts happen at whitespace when possible.
func Split(body string, capacity int) []string {
	body = strings.TrimSpace(body)
	runes := []rune(body)
	if len(runes) <= capacity {
		return []string{body}
	}

	// the prefix width depends on the number of chunks, grow the estimate
	// until the split is stable
	total := 2
	for {
		prefix := len([]rune(fmt.Sprintf("[%d/%d] ", total, total)))
		parts := cut(runes, capacity-prefix)
		if len(parts) <= total || len(fmt.Sprint(len(parts))) == len(fmt.Sprint(total)) {
			out := make([]string, len(parts))
			for i, p := range parts {
				out[i] = fmt.Sprintf("[%d/%d] %s", i+1, len(parts), p)
			}
			return out
		}
		total = len(parts)
	}
}

func cut(runes []rune, size int) []string {
	if size < 1 {
		size = 1
	}
	var parts []string
	for len(runes) > 0 {
		if len(runes) <= size {
			parts = append(parts, strings.TrimSpace(string(runes)))
			break
		}
		end := size
		for i := size; i > size/2; i-- {
			if unicode.IsSpace(runes[i]) {
				end = i
				break
			}
		}
		parts = append(parts, strings.TrimSpace(string(runes[:end])))
		runes = []rune(strings.TrimLeftFunc(string(runes[end:]), unicode.IsSpace))
	}
	return parts
}
