package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLogIsImmutable(t *testing.T) {
	now := time.Unix(0, 0)
	a := newMessage("user", "a", now)
	b := newMessage("assistant", "b", now)
	base := NewLog(a)

	grown := base.Append(b)
	require.Equal(t, 1, base.Len())
	require.Equal(t, 2, grown.Len())

	edited := b
	edited.Content = "B"
	replaced := grown.Replace(edited)
	require.Equal(t, "b", grown.Messages()[1].Content)
	require.Equal(t, "B", replaced.Messages()[1].Content)

	require.Equal(t, 1, replaced.TruncateAt(1).Len())
	require.Equal(t, 2, replaced.Len())
	require.Equal(t, 0, replaced.TruncateAt(-3).Len())
	require.Equal(t, 2, replaced.TruncateAt(10).Len())

	msgs := replaced.Messages()
	msgs[0].Content = "x"
	require.Equal(t, "a", replaced.Messages()[0].Content)
}

func TestLogLookups(t *testing.T) {
	now := time.Unix(0, 0)
	u1 := newMessage("user", "1", now)
	a1 := newMessage("assistant", "1", now)
	u2 := newMessage("user", "2", now)
	l := NewLog(u1, a1, u2)

	require.Equal(t, 2, l.LastIndexOfRole("user"))
	require.Equal(t, 1, l.LastIndexOfRole("assistant"))
	require.Equal(t, -1, l.LastIndexOfRole("system"))
	require.Equal(t, 1, l.IndexOf(a1.ID))
	require.Equal(t, -1, l.IndexOf("missing"))
	require.Equal(t, l, l.Replace(Message{ID: "missing"}))
}
