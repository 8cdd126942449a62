// Package chat keeps the bounded chat history attached to a debate and
// validates chat text before it is accepted.
package chat

// MaxLogMessages is the number of recent messages retained per debate.
const MaxLogMessages = 50

// Message is one chat line in a debate's history.
type Message struct {
	ID   string `json:"id"`
	From string `json:"from"` // connection ID of the sender
	Role string `json:"role"` // "participant" or "spectator"
	Text string `json:"text"`
	Ts   int64  `json:"ts"` // unix millis
}

// Log is a fixed-capacity ring of the most recent messages. It is owned by a
// single debate and is not safe for concurrent use on its own.
type Log struct {
	items []Message
	pos   int
	count int
}

// NewLog creates an empty log holding at most MaxLogMessages entries.
func NewLog() *Log {
	return &Log{items: make([]Message, MaxLogMessages)}
}

// Add appends a message, overwriting the oldest one when the log is full.
func (l *Log) Add(msg Message) {
	l.items[l.pos] = msg
	l.pos = (l.pos + 1) % len(l.items)
	if l.count < len(l.items) {
		l.count++
	}
}

// Messages returns the retained messages oldest first. The result is never nil.
func (l *Log) Messages() []Message {
	size := len(l.items)
	result := make([]Message, l.count)
	start := (l.pos - l.count + size) % size
	for i := 0; i < l.count; i++ {
		result[i] = l.items[(start+i)%size]
	}
	return result
}

// Len returns the number of retained messages.
func (l *Log) Len() int {
	return l.count
}
