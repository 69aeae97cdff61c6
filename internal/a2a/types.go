package a2a

// Header identifies one inter-agent message. Field names are the A2A wire
// format and must not drift: peers validate them literally.
type Header struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

// Task is the work half of a message. TaskID, when present, references a
// funded escrow task the receiver may spend against.
type Task struct {
	Action    string                 `json:"action"`
	Payload   map[string]interface{} `json:"payload"`
	TaskID    string                 `json:"task_id,omitempty"`
	SubTaskID string                 `json:"sub_task_id,omitempty"`
	MaxBudget string                 `json:"max_budget,omitempty"`
}

type Message struct {
	Header Header `json:"header"`
	Task   Task   `json:"task"`
}
