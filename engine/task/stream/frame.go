package stream

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
)

var (
	errMalformedFrame = errors.New("malformed frame")
	emptyContent      = json.RawMessage(`{}`)
)

// Frame is one significant event decoded from the executor stream.
type Frame struct {
	EventName string
	Step      int
	Content   json.RawMessage
}

// ParseFrame decodes a single line. ok is false for lines that carry no
// event: comments, heartbeats, blank separators and the [DONE] sentinel.
func ParseFrame(line string) (frame Frame, ok bool, err error) {
	if !strings.HasPrefix(line, dataPrefix) {
		return Frame{}, false, nil
	}
	payload := strings.TrimPrefix(line, dataPrefix)
	if strings.TrimSpace(payload) == doneSentinel {
		return Frame{}, false, nil
	}
	if !gjson.Valid(payload) {
		return Frame{}, false, errMalformedFrame
	}
	doc := gjson.Parse(payload)
	if !doc.IsObject() {
		return Frame{}, false, errMalformedFrame
	}
	name := doc.Get("event_name")
	if !name.Exists() {
		name = doc.Get("name")
	}
	if name.Type != gjson.String || name.Str == "" {
		return Frame{}, false, errMalformedFrame
	}
	frame = Frame{EventName: name.Str, Step: int(doc.Get("step").Int()), Content: emptyContent}
	if content := doc.Get("content"); content.Exists() && content.Type != gjson.Null {
		frame.Content = json.RawMessage(content.Raw)
	}
	return frame, true, nil
}
