package processor

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ExtractJSON returns the first balanced top-level {...} block in text.
// Surrounding prose and code fences are ignored. Braces inside string
// literals do not count toward balance. The block is not checked for
// validity; a malformed first block fails to decode in parseReply.
func ExtractJSON(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	end, ok := matchObject(text, start)
	if !ok {
		return "", false
	}
	return text[start : end+1], true
}

// matchObject returns the index of the brace closing the object opened at
// start.
func matchObject(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
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
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// parseReply decodes the first JSON object in a process function reply.
func parseReply(text string) (map[string]any, bool) {
	raw, ok := ExtractJSON(text)
	if !ok {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// applyReply copies known keys and configured target fields from obj into
// meta and reports whether anything changed.
func applyReply(meta map[string]any, obj map[string]any, targetFields []string) bool {
	applied := false
	set := func(k string, v any) {
		meta[k] = v
		applied = true
	}

	if s, ok := obj["summary"].(string); ok && s != "" {
		set("summary", s)
	}
	if score, ok := toScore(obj["score"]); ok {
		set("score", score)
	}
	if r, ok := obj["score_reason"].(string); ok && r != "" {
		set("score_reason", r)
	} else if r, ok := obj["reason"].(string); ok && r != "" {
		set("score_reason", r)
	}
	if tags, ok := toTags(obj["tags"]); ok {
		set("tags", tags)
	}

	for _, f := range targetFields {
		if isKnownKey(f) {
			continue
		}
		if v, ok := obj[f]; ok && v != nil {
			set(f, v)
		}
	}
	return applied
}

func isKnownKey(k string) bool {
	switch k {
	case "summary", "score", "score_reason", "tags":
		return true
	}
	return false
}

func toScore(v any) (float64, bool) {
	switch s := v.(type) {
	case float64:
		return s, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toTags(v any) ([]string, bool) {
	var tags []string
	switch t := v.(type) {
	case []any:
		for _, x := range t {
			if s, ok := x.(string); ok && strings.TrimSpace(s) != "" {
				tags = append(tags, strings.TrimSpace(s))
			}
		}
	case string:
		for _, s := range strings.Split(t, ",") {
			if s = strings.TrimSpace(s); s != "" {
				tags = append(tags, s)
			}
		}
	default:
		return nil, false
	}
	return tags, len(tags) > 0
}
