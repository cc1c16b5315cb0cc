// Package store persists conversation messages per tenant and chat.
// The tenant and chat are taken from chatmodel.ChatContext of the context.
package store

import (
	"context"
	"time"

	"github.com/effective-security/actionai/pkg/llms"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/actionai", "store")

// DefaultMaxMessages is the number of most recent messages kept per chat.
const DefaultMaxMessages = 50

// DefaultChatTitle is the title of a chat created on first use.
const DefaultChatTitle = "New Chat"

// ChatInfo describes a chat.
type ChatInfo struct {
	TenantID  string         `json:"tenant_id"`
	ChatID    string         `json:"chat_id"`
	Title     string         `json:"title"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	// Messages are populated by GetChatInfo only
	Messages []llms.Message `json:"-"`
}

// MessageStore stores the messages of the chat from the context.
type MessageStore interface {
	// Messages returns the stored messages, oldest first.
	Messages(ctx context.Context) []llms.Message
	// Add appends the messages in order.
	Add(ctx context.Context, msgs ...llms.Message) error
	// Reset removes the chat and its messages.
	Reset(ctx context.Context) error

	// UpdateChat creates or updates the chat with the title and metadata,
	// an empty title keeps the current one.
	UpdateChat(ctx context.Context, title string, metadata map[string]any) error
	// ListChats returns chat IDs of the tenant.
	ListChats(ctx context.Context) ([]string, error)
	// GetChatInfo returns the chat with messages, id defaults to the chat from the context.
	GetChatInfo(ctx context.Context, id string) (*ChatInfo, error)
	// GetChatTitle returns the title, or empty string when the chat does not exist.
	GetChatTitle(ctx context.Context, id string) (string, error)
}

// MessageStoreManager provides maintenance across tenants.
type MessageStoreManager interface {
	ListTenants(ctx context.Context) ([]string, error)
	// Cleanup removes chats of the tenant not updated since olderThan,
	// and returns the number of removed chats.
	Cleanup(ctx context.Context, tenantID string, olderThan time.Duration) (uint32, error)
}
