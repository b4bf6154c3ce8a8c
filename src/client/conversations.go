package client

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTitle names a conversation before its first user message.
	DefaultTitle = "新しいチャット"
	// TitleLength is the number of characters kept from the first user message.
	TitleLength = 30
)

// ErrUnknownConversation is returned for an id not in the list.
var ErrUnknownConversation = errors.New("client: unknown conversation")

// Conversation is a stored chat.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt int64     `json:"createdAt"`
	UpdatedAt int64     `json:"updatedAt"`
}

// Conversations is the persisted list of conversations, newest first, with
// one of them marked active.
type Conversations struct {
	store BlobStore
	now   func() time.Time

	mu     sync.Mutex
	list   []Conversation
	active string
}

// OpenConversations loads the list from store. An unreadable blob is logged
// and treated as empty.
func OpenConversations(ctx context.Context, store BlobStore) (*Conversations, error) {
	c := &Conversations{store: store, now: time.Now}
	blob, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if len(blob) > 0 {
		if err := json.Unmarshal(blob, &c.list); err != nil {
			log.Printf("client: discarding unreadable conversations: %v", err)
			c.list = nil
		}
	}
	return c, nil
}

// List returns the conversations, newest first.
func (c *Conversations) List() []Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Conversation, len(c.list))
	for i, conv := range c.list {
		out[i] = conv
		out[i].Messages = append([]Message(nil), conv.Messages...)
	}
	return out
}

// Get returns the conversation with id.
func (c *Conversations) Get(id string) (Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexLocked(id); i >= 0 {
		conv := c.list[i]
		conv.Messages = append([]Message(nil), conv.Messages...)
		return conv, true
	}
	return Conversation{}, false
}

// Active returns the id of the active conversation, or "".
func (c *Conversations) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// SetActive marks id as active. Unknown ids are ignored.
func (c *Conversations) SetActive(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexLocked(id) < 0 {
		return false
	}
	c.active = id
	return true
}

// Create adds an empty conversation at the front and makes it active.
func (c *Conversations) Create(ctx context.Context) (string, error) {
	now := c.now().UnixMilli()
	conv := Conversation{
		ID:        uuid.NewString(),
		Title:     DefaultTitle,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.mu.Lock()
	c.list = append([]Conversation{conv}, c.list...)
	c.active = conv.ID
	c.mu.Unlock()
	return conv.ID, c.save(ctx)
}

// Update replaces the messages of id. A conversation still carrying the
// default title is named after its first user message.
func (c *Conversations) Update(ctx context.Context, id string, msgs []Message) error {
	c.mu.Lock()
	i := c.indexLocked(id)
	if i < 0 {
		c.mu.Unlock()
		return ErrUnknownConversation
	}
	conv := &c.list[i]
	conv.Messages = append([]Message(nil), msgs...)
	conv.Title = titleFor(msgs, conv.Title)
	conv.UpdatedAt = c.now().UnixMilli()
	c.mu.Unlock()
	return c.save(ctx)
}

// Delete removes id. Deleting the active conversation activates the next
// newest one.
func (c *Conversations) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	i := c.indexLocked(id)
	if i < 0 {
		c.mu.Unlock()
		return nil
	}
	c.list = append(c.list[:i:i], c.list[i+1:]...)
	if c.active == id {
		c.active = ""
		if len(c.list) > 0 {
			c.active = c.list[0].ID
		}
	}
	c.mu.Unlock()
	return c.save(ctx)
}

func (c *Conversations) indexLocked(id string) int {
	for i, conv := range c.list {
		if conv.ID == id {
			return i
		}
	}
	return -1
}

func (c *Conversations) save(ctx context.Context) error {
	c.mu.Lock()
	blob, err := json.Marshal(c.list)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.store.Save(ctx, blob)
}

// titleFor names a conversation after its first user message, once.
func titleFor(msgs []Message, current string) string {
	if current != "" && current != DefaultTitle {
		return current
	}
	for _, m := range msgs {
		if m.Role == "user" {
			return truncateTitle(m.Content)
		}
	}
	return DefaultTitle
}

func truncateTitle(s string) string {
	r := []rune(s)
	if len(r) <= TitleLength {
		return s
	}
	return string(r[:TitleLength]) + "..."
}
