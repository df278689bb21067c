// Package extract pulls runnable JSCAD source out of model replies.
package extract

import (
	"errors"
	"regexp"
	"strings"
)

// ErrNoCodeFound is returned when a reply carries no recognizable program.
var ErrNoCodeFound = errors.New("no code found in reply")

var (
	fenceRe = regexp.MustCompile("(?s)```(?:javascript|js|jsx|typescript|ts)?[ \\t]*\\r?\\n(.*?)```")
	entryRe = regexp.MustCompile(`function\s+main\s*\(|(?:const|let|var)\s+main\s*=|return\s+main\s*\(\s*\)`)
)

// Code returns the program in reply. The first javascript fence wins, then
// the first untagged fence that looks like a program; a bare reply counts
// only when it defines or returns main.
func Code(reply string) (string, error) {
	var fallback string
	for _, m := range fenceRe.FindAllStringSubmatch(reply, -1) {
		body := strings.TrimRight(m[1], " \t\r\n")
		if body == "" {
			continue
		}
		if strings.HasPrefix(m[0], "```javascript") || strings.HasPrefix(m[0], "```js") {
			return body, nil
		}
		if fallback == "" && entryRe.MatchString(body) {
			fallback = body
		}
	}
	if fallback != "" {
		return fallback, nil
	}

	trimmed := strings.TrimSpace(reply)
	if trimmed != "" && !strings.Contains(trimmed, "```") && entryRe.MatchString(trimmed) {
		return trimmed, nil
	}
	return "", ErrNoCodeFound
}
