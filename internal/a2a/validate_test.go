package a2a

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ownID = "orca-agent"

func validRaw(t *testing.T, mutate func(m map[string]interface{})) []byte {
	t.Helper()
	m := map[string]interface{}{
		"header": map[string]interface{}{
			"message_id": "8b0b42f3-6f0a-4a6c-9be2-54c7e6a2a0aa",
			"from":       "peer-1",
			"to":         ownID,
			"timestamp":  1756400000000,
		},
		"task": map[string]interface{}{
			"action":  "ping",
			"payload": map[string]interface{}{"message": "hi"},
		},
	}
	if mutate != nil {
		mutate(m)
	}
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	return raw
}

func TestValidateMessageOK(t *testing.T) {
	msg, err := ValidateMessage(validRaw(t, nil), ownID, false)
	require.NoError(t, err)
	assert.Equal(t, "peer-1", msg.Header.From)
	assert.Equal(t, "ping", msg.Task.Action)
	assert.Equal(t, int64(1756400000000), msg.Header.Timestamp)
	assert.Equal(t, "hi", msg.Task.Payload["message"])
}

func TestValidateMessageViolations(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(m map[string]interface{})
		want   string
	}{
		{
			name:   "missing header",
			mutate: func(m map[string]interface{}) { delete(m, "header") },
			want:   "missing required field: header",
		},
		{
			name:   "missing task",
			mutate: func(m map[string]interface{}) { delete(m, "task") },
			want:   "missing required field: task",
		},
		{
			name: "header wrong type",
			mutate: func(m map[string]interface{}) {
				m["header"] = "nope"
			},
			want: "header is not an object",
		},
		{
			name: "missing message_id",
			mutate: func(m map[string]interface{}) {
				delete(m["header"].(map[string]interface{}), "message_id")
			},
			want: "missing header field: message_id",
		},
		{
			name: "empty from",
			mutate: func(m map[string]interface{}) {
				m["header"].(map[string]interface{})["from"] = ""
			},
			want: "empty header field: from",
		},
		{
			name: "string timestamp",
			mutate: func(m map[string]interface{}) {
				m["header"].(map[string]interface{})["timestamp"] = "yesterday"
			},
			want: "timestamp must be numeric",
		},
		{
			name: "blank action",
			mutate: func(m map[string]interface{}) {
				m["task"].(map[string]interface{})["action"] = "   "
			},
			want: "action must be a non-empty string",
		},
		{
			name: "payload wrong type",
			mutate: func(m map[string]interface{}) {
				m["task"].(map[string]interface{})["payload"] = []int{1, 2}
			},
			want: "payload must be an object",
		},
		{
			name: "wrong destination",
			mutate: func(m map[string]interface{}) {
				m["header"].(map[string]interface{})["to"] = "someone-else"
			},
			want: "message destination someone-else does not match agent ID orca-agent",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateMessage(validRaw(t, tc.mutate), ownID, false)
			var se *SchemaError
			require.ErrorAs(t, err, &se)
			assert.Contains(t, se.Violations, tc.want)
		})
	}
}

func TestValidateMessageCollectsAllViolations(t *testing.T) {
	raw := validRaw(t, func(m map[string]interface{}) {
		header := m["header"].(map[string]interface{})
		delete(header, "message_id")
		header["timestamp"] = "later"
		m["task"].(map[string]interface{})["action"] = ""
	})

	_, err := ValidateMessage(raw, ownID, false)
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Len(t, se.Violations, 3)
}

func TestValidateMessagePermissiveDestination(t *testing.T) {
	raw := validRaw(t, func(m map[string]interface{}) {
		m["header"].(map[string]interface{})["to"] = "broadcast-target"
	})

	_, err := ValidateMessage(raw, ownID, false)
	assert.Error(t, err)

	msg, err := ValidateMessage(raw, ownID, true)
	require.NoError(t, err)
	assert.Equal(t, "broadcast-target", msg.Header.To)
}

func TestValidateMessageNotJSON(t *testing.T) {
	_, err := ValidateMessage([]byte("not json"), ownID, false)
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Violations[0], "not a JSON object")
}
