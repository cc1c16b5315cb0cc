package store

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/effective-security/actionai/chatmodel"
	"github.com/effective-security/actionai/pkg/llms"
)

type memoryChat struct {
	info     ChatInfo
	messages []llms.Message
}

type inMemory struct {
	mu          sync.RWMutex
	maxMessages int
	// tenant -> chat -> messages
	storage map[string]map[string]*memoryChat
}

var (
	_ MessageStore        = (*inMemory)(nil)
	_ MessageStoreManager = (*inMemory)(nil)
)

// NewMemoryStore returns a MessageStore kept in process memory.
func NewMemoryStore() MessageStore {
	return newMemory()
}

// AsManager returns MessageStoreManager of the store, when supported.
func AsManager(st MessageStore) (MessageStoreManager, bool) {
	m, ok := st.(MessageStoreManager)
	return m, ok
}

func newMemory() *inMemory {
	return &inMemory{
		maxMessages: DefaultMaxMessages,
		storage:     make(map[string]map[string]*memoryChat),
	}
}

// get returns the chat, creating it when create is set.
// Caller must hold the lock.
func (m *inMemory) get(tenantID, chatID string, create bool) *memoryChat {
	chats := m.storage[tenantID]
	if chats == nil {
		if !create {
			return nil
		}
		chats = make(map[string]*memoryChat)
		m.storage[tenantID] = chats
	}
	c := chats[chatID]
	if c == nil && create {
		now := time.Now()
		c = &memoryChat{
			info: ChatInfo{
				TenantID:  tenantID,
				ChatID:    chatID,
				Title:     DefaultChatTitle,
				CreatedAt: now,
				UpdatedAt: now,
				Metadata:  make(map[string]any),
			},
		}
		chats[chatID] = c
	}
	return c
}

func (m *inMemory) Messages(ctx context.Context) []llms.Message {
	tenantID, chatID, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c := m.get(tenantID, chatID, false); c != nil {
		return slices.Clone(c.messages)
	}
	return nil
}

func (m *inMemory) Add(ctx context.Context, msgs ...llms.Message) error {
	tenantID, chatID, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.get(tenantID, chatID, true)
	c.messages = append(c.messages, msgs...)
	if over := len(c.messages) - m.maxMessages; over > 0 {
		c.messages = slices.Clone(c.messages[over:])
	}
	c.info.UpdatedAt = time.Now()
	return nil
}

func (m *inMemory) Reset(ctx context.Context) error {
	tenantID, chatID, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if chats := m.storage[tenantID]; chats != nil {
		delete(chats, chatID)
	}
	return nil
}

func (m *inMemory) UpdateChat(ctx context.Context, title string, metadata map[string]any) error {
	tenantID, chatID, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.get(tenantID, chatID, true)
	if title != "" {
		c.info.Title = title
	}
	maps.Copy(c.info.Metadata, metadata)
	c.info.UpdatedAt = time.Now()
	return nil
}

func (m *inMemory) ListChats(ctx context.Context) ([]string, error) {
	tenantID, _, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.storage[tenantID])), nil
}

func (m *inMemory) GetChatInfo(ctx context.Context, id string) (*ChatInfo, error) {
	tenantID, chatID, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = chatID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.get(tenantID, id, true)
	info := c.info
	info.Metadata = maps.Clone(c.info.Metadata)
	info.Messages = slices.Clone(c.messages)
	return &info, nil
}

func (m *inMemory) GetChatTitle(ctx context.Context, id string) (string, error) {
	tenantID, chatID, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		return "", err
	}
	if id == "" {
		id = chatID
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c := m.get(tenantID, id, false); c != nil {
		return c.info.Title, nil
	}
	return "", nil
}

func (m *inMemory) ListTenants(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.storage)), nil
}

func (m *inMemory) Cleanup(_ context.Context, tenantID string, olderThan time.Duration) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	deleted := uint32(0)
	for id, c := range m.storage[tenantID] {
		if c.info.UpdatedAt.Before(cutoff) {
			delete(m.storage[tenantID], id)
			deleted++
		}
	}
	return deleted, nil
}
