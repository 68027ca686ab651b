package task

import (
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// BuildHistory pairs each lifecycle start with the next lifecycle complete
// into a user/assistant exchange. Unpaired events are ignored.
func BuildHistory(progress []*Progress) []HistoryMessage {
	ordered := make([]*Progress, 0, len(progress))
	for _, p := range progress {
		if p != nil {
			ordered = append(ordered, p)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })
	history := make([]HistoryMessage, 0)
	var request *string
	for _, p := range ordered {
		switch p.Type {
		case EventLifecycleStart:
			req := textValue(gjson.GetBytes(p.Content, "request"))
			request = &req
		case EventLifecycleComplete:
			if request == nil {
				continue
			}
			history = append(history,
				HistoryMessage{Role: RoleUser, Message: *request},
				HistoryMessage{Role: RoleAssistant, Message: joinResults(gjson.GetBytes(p.Content, "results"))},
			)
			request = nil
		}
	}
	return history
}

func joinResults(results gjson.Result) string {
	if !results.IsArray() {
		return textValue(results)
	}
	items := results.Array()
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, textValue(item))
	}
	return strings.Join(lines, "\n")
}

func textValue(r gjson.Result) string {
	switch r.Type {
	case gjson.String:
		return r.Str
	case gjson.Null:
		return ""
	default:
		return r.Raw
	}
}
