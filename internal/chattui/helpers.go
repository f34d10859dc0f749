package chattui

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/agusx1211/parley/internal/chat"
)

// compactArgs renders tool arguments as a short single-line summary.
func compactArgs(raw json.RawMessage, max int) string {
	if len(raw) == 0 {
		return ""
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return firstLine(string(raw), max)
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		if s, ok := args[k].(string); ok && s != "" {
			parts = append(parts, k+"="+firstLine(s, 30))
		}
	}
	return firstLine(strings.Join(parts, " "), max)
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > max {
		s = s[:max] + "…"
	}
	return s
}

func nonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func sortedExecutions(m map[string]chat.ToolExecution) []chat.ToolExecution {
	out := make([]chat.ToolExecution, 0, len(m))
	for _, exec := range m {
		out = append(out, exec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func sortedSubagents(m map[string]chat.SubagentRecord) []chat.SubagentRecord {
	out := make([]chat.SubagentRecord, 0, len(m))
	for _, sub := range m {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}
