package extraction

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// DefaultConfidence is assigned when the oracle omits or garbles confidence.
const DefaultConfidence = 0.7

var fencePattern = regexp.MustCompile("(?s)```[A-Za-z]*[ \t]*\n?(.*?)```")

// ParseTasks extracts tasks from an oracle reply. The reply may be wrapped in
// code fences, surrounded by prose, or carry trailing commas. Accepted shapes
// are {"tasks": [...]} and a bare array. Anything unusable yields an empty list.
func ParseTasks(raw string) []Task {
	text := stripFences(raw)

	if items, ok := decodeItems(text); ok {
		return coerceTasks(items)
	}

	// Prose around the JSON may itself contain brackets, such as echoed
	// "[0]" snippet markers, so keep scanning until a candidate yields tasks.
	for start := 0; start < len(text); {
		candidate, end := nextBalanced(text, start)
		if candidate == "" {
			break
		}
		for _, c := range []string{candidate, stripTrailingCommas(candidate)} {
			if items, ok := decodeItems(c); ok {
				if tasks := coerceTasks(items); len(tasks) > 0 {
					return tasks
				}
			}
		}
		start = end + 1
	}
	return []Task{}
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	// An opening fence with no closing fence.
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			return strings.TrimSpace(s[nl+1:])
		}
	}
	return s
}

// decodeItems accepts {"tasks": [...]} or [...].
func decodeItems(s string) ([]any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	switch t := v.(type) {
	case []any:
		return t, true
	case map[string]any:
		items, ok := t["tasks"].([]any)
		return items, ok
	}
	return nil, false
}

// nextBalanced returns the first complete {...} or [...] beginning at or
// after from, honouring string literals and escapes, and the offset of its
// closing bracket.
func nextBalanced(s string, from int) (string, int) {
	for i := from; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		if end := matchClose(s, i); end > 0 {
			return s[i : end+1], end
		}
	}
	return "", -1
}

// matchClose returns the index of the bracket closing s[start], or -1.
func matchClose(s string, start int) int {
	var (
		stack    []byte
		inString bool
		escaped  bool
	)
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}

// stripTrailingCommas drops commas that directly precede } or ], outside
// string literals.
func stripTrailingCommas(s string) string {
	var (
		b        strings.Builder
		inString bool
		escaped  bool
	)
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func coerceTasks(items []any) []Task {
	tasks := make([]Task, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if t, ok := coerceTask(obj); ok {
			tasks = append(tasks, t)
		}
	}
	return tasks
}

func coerceTask(obj map[string]any) (Task, bool) {
	title := strings.TrimSpace(stringValue(obj["title"]))
	body := strings.TrimSpace(stringValue(obj["body"]))
	if title == "" && body == "" {
		return Task{}, false
	}

	src, ok := obj["source_index"]
	if !ok {
		src = obj["source_i"]
	}

	return Task{
		Title:        truncateRunes(title, MaxTitleRunes),
		Body:         body,
		Labels:       coerceLabels(obj["labels"]),
		AssigneeHint: strings.TrimSpace(stringValue(obj["assignee_hint"])),
		DueHint:      strings.TrimSpace(stringValue(obj["due_hint"])),
		SourceIndex:  coerceIndex(src),
		Confidence:   coerceConfidence(obj["confidence"]),
	}, true
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func coerceLabels(v any) []string {
	var out []string
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			out = []string{s}
		}
	case []any:
		seen := make(map[string]bool, len(t))
		for _, item := range t {
			s, ok := item.(string)
			s = strings.TrimSpace(s)
			if !ok || s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []string{DefaultLabel}
	}
	return out
}

// coerceIndex accepts integers, integral floats and numeric strings.
// Anything else is 0.
func coerceIndex(v any) int {
	switch t := v.(type) {
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<31 {
			return int(t)
		}
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) && math.Abs(f) < 1<<31 {
			return int(f)
		}
	}
	return 0
}

func coerceConfidence(v any) float64 {
	c := DefaultConfidence
	switch t := v.(type) {
	case float64:
		c = t
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil && !math.IsNaN(f) {
			c = f
		}
	}
	return math.Max(0, math.Min(1, c))
}
