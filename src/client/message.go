// Package client is the consuming side of the chat proxy: it reads the
// proxy's event stream, keeps the message log of a chat session, and stores
// conversations.
package client

import (
	"time"

	"github.com/google/uuid"
)

// Message is one entry of a chat session.
type Message struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	Content     string `json:"content"`
	Timestamp   int64  `json:"timestamp"`
	IsSearching bool   `json:"isSearching,omitempty"`
	SearchQuery string `json:"searchQuery,omitempty"`
}

func newMessage(role, content string, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: now.UnixMilli(),
	}
}

// Log is an immutable ordered list of messages. Every modifying method
// returns a new Log and leaves the receiver untouched.
type Log struct {
	msgs []Message
}

// NewLog copies msgs into a log.
func NewLog(msgs ...Message) Log {
	return Log{msgs: append([]Message(nil), msgs...)}
}

// Len returns the number of messages.
func (l Log) Len() int {
	return len(l.msgs)
}

// Messages returns a copy of the messages.
func (l Log) Messages() []Message {
	return append([]Message(nil), l.msgs...)
}

// Append returns a log with msgs added at the end.
func (l Log) Append(msgs ...Message) Log {
	out := make([]Message, 0, len(l.msgs)+len(msgs))
	out = append(out, l.msgs...)
	out = append(out, msgs...)
	return Log{msgs: out}
}

// TruncateAt returns the messages before index i.
func (l Log) TruncateAt(i int) Log {
	if i < 0 {
		i = 0
	}
	if i > len(l.msgs) {
		i = len(l.msgs)
	}
	return NewLog(l.msgs[:i]...)
}

// Replace returns a log where the message with m.ID is swapped for m.
func (l Log) Replace(m Message) Log {
	idx := l.IndexOf(m.ID)
	if idx < 0 {
		return l
	}
	out := l.Messages()
	out[idx] = m
	return Log{msgs: out}
}

// IndexOf returns the index of the message with id, or -1.
func (l Log) IndexOf(id string) int {
	for i, m := range l.msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// LastIndexOfRole returns the index of the last message with role, or -1.
func (l Log) LastIndexOfRole(role string) int {
	for i := len(l.msgs) - 1; i >= 0; i-- {
		if l.msgs[i].Role == role {
			return i
		}
	}
	return -1
}
