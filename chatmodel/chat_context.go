// Package chatmodel carries the tenant and chat identity of a conversation
// in context.Context.
package chatmodel

import (
	"context"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xdb/pkg/flake"
)

// ErrInvalidChatContext is returned when the context has no ChatContext.
var ErrInvalidChatContext = errors.New("invalid chat context")

// DefaultTenantID is used when the chat context is created without a tenant.
const DefaultTenantID = "default"

// ChatContext is the conversation scope: tenant, chat and the current run.
type ChatContext interface {
	GetTenantID() string
	GetChatID() string
	SetChatID(chatID string)
	// RunID is unique per ChatContext instance
	RunID() string
	// AppData returns immutable app data
	AppData() any
	// GetMetadata retrieves metadata by key
	GetMetadata(key string) (value any, ok bool)
	// SetMetadata sets metadata by key
	SetMetadata(key string, value any)
}

type chatContext struct {
	tenantID string
	runID    string
	appData  any
	metadata sync.Map

	lock   sync.RWMutex
	chatID string
}

func (c *chatContext) GetTenantID() string {
	return c.tenantID
}

func (c *chatContext) GetChatID() string {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.chatID
}

func (c *chatContext) SetChatID(chatID string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.chatID = chatID
}

func (c *chatContext) RunID() string {
	return c.runID
}

func (c *chatContext) AppData() any {
	return c.appData
}

func (c *chatContext) GetMetadata(key string) (value any, ok bool) {
	return c.metadata.Load(key)
}

func (c *chatContext) SetMetadata(key string, value any) {
	c.metadata.Store(key, value)
}

// NewChatContext returns ChatContext, a new chat ID is generated when chatID is empty.
func NewChatContext(tenantID, chatID string, appData any) ChatContext {
	return &chatContext{
		tenantID: values.StringsCoalesce(tenantID, DefaultTenantID),
		chatID:   values.StringsCoalesce(chatID, NewChatID()),
		runID:    NewChatID(),
		appData:  appData,
	}
}

type contextKey int

const (
	keyContext contextKey = iota
)

// WithChatContext returns a new context with ChatContext value
func WithChatContext(ctx context.Context, chatCtx ChatContext) context.Context {
	return context.WithValue(ctx, keyContext, chatCtx)
}

// GetChatContext retrieves the ChatContext from the context, or nil.
func GetChatContext(ctx context.Context) ChatContext {
	if v, ok := ctx.Value(keyContext).(ChatContext); ok {
		return v
	}
	return nil
}

// NewFromContext returns a new background context with the ChatContext of ctx,
// to be used by work which must outlive ctx.
func NewFromContext(ctx context.Context) context.Context {
	if c := GetChatContext(ctx); c != nil {
		return WithChatContext(context.Background(), c)
	}
	return context.Background()
}

// SetChatID sets the chat ID of the ChatContext in ctx.
func SetChatID(ctx context.Context, chatID string) (context.Context, error) {
	c := GetChatContext(ctx)
	if c == nil {
		return ctx, errors.WithStack(ErrInvalidChatContext)
	}
	c.SetChatID(chatID)
	return ctx, nil
}

// GetTenantAndChatID returns tenant and chat IDs from the context,
// or ErrInvalidChatContext.
func GetTenantAndChatID(ctx context.Context) (string, string, error) {
	c := GetChatContext(ctx)
	if c == nil {
		return "", "", ErrInvalidChatContext
	}
	return c.GetTenantID(), c.GetChatID(), nil
}

// NewChatID generates a new chat ID using the flake ID generator.
func NewChatID() string {
	return strconv.FormatUint(flake.DefaultIDGenerator.NextID(), 10)
}
