package a2a

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SchemaError collects every violation found in an inbound message, not
// just the first, so a peer can fix its sender in one round.
type SchemaError struct {
	Violations []string
}

func (e *SchemaError) Error() string {
	return "a2a: invalid message: " + strings.Join(e.Violations, "; ")
}

// ValidateMessage checks raw against the A2A schema and decodes it. ownID is
// the receiving agent's identity; unless permissive, a message addressed to
// anyone else is rejected. Validation runs over the generic JSON form so
// that type violations are reported instead of being masked by decoding.
func ValidateMessage(raw []byte, ownID string, permissive bool) (*Message, error) {
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, &SchemaError{Violations: []string{"message is not a JSON object"}}
	}

	var violations []string

	header, ok := generic["header"].(map[string]interface{})
	switch {
	case generic["header"] == nil:
		violations = append(violations, "missing required field: header")
	case !ok:
		violations = append(violations, "header is not an object")
	default:
		for _, field := range []string{"message_id", "from", "to", "timestamp"} {
			v, present := header[field]
			if !present {
				violations = append(violations, "missing header field: "+field)
				continue
			}
			if s, isString := v.(string); isString && s == "" {
				violations = append(violations, "empty header field: "+field)
			}
		}
		if v, present := header["timestamp"]; present {
			if _, numeric := v.(float64); !numeric {
				violations = append(violations, "timestamp must be numeric")
			}
		}
	}

	task, ok := generic["task"].(map[string]interface{})
	switch {
	case generic["task"] == nil:
		violations = append(violations, "missing required field: task")
	case !ok:
		violations = append(violations, "task is not an object")
	default:
		if _, present := task["action"]; !present {
			violations = append(violations, "missing task field: action")
		} else if action, isString := task["action"].(string); !isString || strings.TrimSpace(action) == "" {
			violations = append(violations, "action must be a non-empty string")
		}
		if _, present := task["payload"]; !present {
			violations = append(violations, "missing task field: payload")
		} else if _, isMap := task["payload"].(map[string]interface{}); !isMap {
			violations = append(violations, "payload must be an object")
		}
	}

	if !permissive && header != nil {
		if to, _ := header["to"].(string); to != "" && to != ownID {
			violations = append(violations, fmt.Sprintf("message destination %s does not match agent ID %s", to, ownID))
		}
	}

	if len(violations) > 0 {
		return nil, &SchemaError{Violations: violations}
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, &SchemaError{Violations: []string{err.Error()}}
	}
	return &msg, nil
}
