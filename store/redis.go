package store

import (
	"context"
	"encoding/json"
	"maps"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/actionai/chatmodel"
	"github.com/effective-security/actionai/pkg/llms"
	"github.com/effective-security/xlog"
	"github.com/redis/go-redis/v9"
)

// The redis store keeps chat messages and metadata in Redis.
// The keys namespace is organized as follows:
// - `<prefix>/chatstore/<tenantID>/messages/<chatID>` list of chat messages
// - `<prefix>/chatstore/<tenantID>/info/<chatID>` chat metadata
// - `<prefix>/chatstore/<tenantID>/chats` set of chat IDs of the tenant

type redisStore struct {
	client      redis.UniversalClient
	prefix      string
	maxMessages int64
}

var (
	_ MessageStore        = (*redisStore)(nil)
	_ MessageStoreManager = (*redisStore)(nil)
)

// NewRedisStore returns MessageStore backed by Redis.
func NewRedisStore(client redis.UniversalClient, prefix string) MessageStore {
	return newRedis(client, prefix)
}

// NewRedisStoreManager returns MessageStoreManager backed by Redis.
func NewRedisStoreManager(client redis.UniversalClient, prefix string) MessageStoreManager {
	return newRedis(client, prefix)
}

func newRedis(client redis.UniversalClient, prefix string) *redisStore {
	return &redisStore{
		client:      client,
		prefix:      prefix,
		maxMessages: DefaultMaxMessages,
	}
}

func (m *redisStore) messagesKey(tenantID, chatID string) string {
	return path.Join(m.prefix, "chatstore", tenantID, "messages", chatID)
}

func (m *redisStore) chatInfoKey(tenantID, chatID string) string {
	return path.Join(m.prefix, "chatstore", tenantID, "info", chatID)
}

func (m *redisStore) chatListKey(tenantID string) string {
	return path.Join(m.prefix, "chatstore", tenantID, "chats")
}

func (m *redisStore) Messages(ctx context.Context) []llms.Message {
	tenantID, chatID, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		logger.ContextKV(ctx, xlog.DEBUG, "reason", "chat_context", "err", err.Error())
		return nil
	}
	return m.messages(ctx, tenantID, chatID)
}

func (m *redisStore) messages(ctx context.Context, tenantID, chatID string) []llms.Message {
	data, err := m.client.LRange(ctx, m.messagesKey(tenantID, chatID), 0, -1).Result()
	if err != nil {
		logger.ContextKV(ctx, xlog.ERROR, "reason", "lrange", "err", err.Error())
		return nil
	}

	var messages []llms.Message
	for _, item := range data {
		var msg llms.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			logger.ContextKV(ctx, xlog.ERROR, "reason", "unmarshal_message", "err", err.Error())
			continue
		}
		messages = append(messages, msg)
	}
	return messages
}

func (m *redisStore) Add(ctx context.Context, msgs ...llms.Message) error {
	tenantID, chatID, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	items := make([]any, 0, len(msgs))
	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			return errors.Wrap(err, "failed to marshal message")
		}
		items = append(items, data)
	}

	key := m.messagesKey(tenantID, chatID)
	pipe := m.client.TxPipeline()
	pipe.RPush(ctx, key, items...)
	pipe.LTrim(ctx, key, -m.maxMessages, -1)
	if _, err = pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to store message in Redis")
	}

	// touch the chat
	return m.UpdateChat(ctx, "", nil)
}

func (m *redisStore) Reset(ctx context.Context) error {
	tenantID, chatID, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		return err
	}

	pipe := m.client.TxPipeline()
	pipe.Del(ctx, m.messagesKey(tenantID, chatID))
	pipe.Del(ctx, m.chatInfoKey(tenantID, chatID))
	pipe.SRem(ctx, m.chatListKey(tenantID), chatID)
	if _, err = pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to reset chat in Redis")
	}
	return nil
}

func (m *redisStore) UpdateChat(ctx context.Context, title string, metadata map[string]any) error {
	tenantID, chatID, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		return err
	}

	chat, err := m.getChatInfo(ctx, tenantID, chatID)
	if err != nil {
		return errors.WithMessage(err, "failed to get chat info")
	}

	if title != "" {
		chat.Title = title
	}
	if metadata != nil {
		if chat.Metadata == nil {
			chat.Metadata = make(map[string]any)
		}
		maps.Copy(chat.Metadata, metadata)
	}
	chat.UpdatedAt = time.Now()

	return m.updateChat(ctx, chat, false)
}

func (m *redisStore) updateChat(ctx context.Context, chat *ChatInfo, isNew bool) error {
	chatData, err := json.Marshal(chat)
	if err != nil {
		return errors.Wrap(err, "failed to marshal chat info")
	}

	pipe := m.client.TxPipeline()
	pipe.Set(ctx, m.chatInfoKey(chat.TenantID, chat.ChatID), chatData, 0)
	if isNew {
		pipe.SAdd(ctx, m.chatListKey(chat.TenantID), chat.ChatID)
	}
	if _, err = pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to store chat info in Redis")
	}
	return nil
}

func (m *redisStore) ListChats(ctx context.Context) ([]string, error) {
	tenantID, _, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		return nil, err
	}

	chatIDs, err := m.client.SMembers(ctx, m.chatListKey(tenantID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to list chats from Redis")
	}
	slices.Sort(chatIDs)
	return chatIDs, nil
}

func (m *redisStore) GetChatInfo(ctx context.Context, id string) (*ChatInfo, error) {
	tenantID, chatID, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = chatID
	}
	info, err := m.getChatInfo(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	info.Messages = m.messages(ctx, tenantID, id)
	return info, nil
}

// getChatInfo returns the chat without messages, the chat is created when not found.
func (m *redisStore) getChatInfo(ctx context.Context, tenantID, chatID string) (*ChatInfo, error) {
	data, err := m.client.Get(ctx, m.chatInfoKey(tenantID, chatID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			return nil, errors.Wrap(err, "failed to get chat info from Redis")
		}
		now := time.Now()
		chat := &ChatInfo{
			TenantID:  tenantID,
			ChatID:    chatID,
			Title:     DefaultChatTitle,
			CreatedAt: now,
			UpdatedAt: now,
			Metadata:  make(map[string]any),
		}
		if err = m.updateChat(ctx, chat, true); err != nil {
			return nil, errors.WithMessage(err, "failed to initialize new chat info")
		}
		return chat, nil
	}

	chat := &ChatInfo{}
	if err = json.Unmarshal([]byte(data), chat); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal chat info")
	}
	return chat, nil
}

func (m *redisStore) GetChatTitle(ctx context.Context, id string) (string, error) {
	tenantID, chatID, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		return "", err
	}
	if id == "" {
		id = chatID
	}

	data, err := m.client.Get(ctx, m.chatInfoKey(tenantID, id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", errors.Wrap(err, "failed to get chat info from Redis")
	}

	var chat ChatInfo
	if err = json.Unmarshal([]byte(data), &chat); err != nil {
		return "", errors.Wrap(err, "failed to unmarshal chat info")
	}
	return chat.Title, nil
}

func (m *redisStore) ListTenants(ctx context.Context) ([]string, error) {
	root := path.Join(m.prefix, "chatstore")
	iter := m.client.Scan(ctx, 0, root+"/*", 0).Iterator()
	tenants := make(map[string]struct{})
	for iter.Next(ctx) {
		parts := strings.Split(strings.TrimPrefix(iter.Val(), root+"/"), "/")
		if len(parts) > 0 && parts[0] != "" {
			tenants[parts[0]] = struct{}{}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to scan tenants from Redis")
	}
	return slices.Sorted(maps.Keys(tenants)), nil
}

func (m *redisStore) Cleanup(ctx context.Context, tenantID string, olderThan time.Duration) (uint32, error) {
	listKey := m.chatListKey(tenantID)
	chatIDs, err := m.client.SMembers(ctx, listKey).Result()
	if err != nil {
		return 0, errors.Wrap(err, "failed to list chats from Redis")
	}

	deleted := uint32(0)
	cutoff := time.Now().Add(-olderThan)
	for _, chatID := range chatIDs {
		infoKey := m.chatInfoKey(tenantID, chatID)
		data, err := m.client.Get(ctx, infoKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return deleted, errors.Wrap(err, "failed to get chat info")
		}

		var chat ChatInfo
		if err := json.Unmarshal([]byte(data), &chat); err != nil {
			return deleted, errors.Wrap(err, "failed to unmarshal chat info")
		}
		if !chat.UpdatedAt.Before(cutoff) {
			continue
		}

		pipe := m.client.TxPipeline()
		pipe.Del(ctx, infoKey)
		pipe.Del(ctx, m.messagesKey(tenantID, chatID))
		pipe.SRem(ctx, listKey, chatID)
		if _, err = pipe.Exec(ctx); err != nil {
			return deleted, errors.Wrap(err, "failed to delete chat from Redis")
		}
		deleted++
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "cleanup",
		"tenant", tenantID,
		"deleted", deleted,
	)
	return deleted, nil
}
