package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ReelForge/core/persist"
	"ReelForge/logger"
	"ReelForge/model"

	"github.com/go-redis/redis/v8"
)

// ProjectStore persists the project document under one redis key and
// announces every save on a pub/sub channel so other instances can merge.
type ProjectStore struct {
	client  *redis.Client
	key     string
	channel string

	maxRetries int
	retryDelay time.Duration
}

// NewProjectStore 创建项目存储
func NewProjectStore(client *redis.Client, projectID string) *ProjectStore {
	return &ProjectStore{
		client:     client,
		key:        ProjectKey(projectID),
		channel:    ProjectChannel(projectID),
		maxRetries: 2,
		retryDelay: 100 * time.Millisecond,
	}
}

// ProjectKey 项目文档的键
func ProjectKey(projectID string) string {
	return fmt.Sprintf("reelforge:project:%s", projectID)
}

// ProjectChannel 项目变更通知频道
func ProjectChannel(projectID string) string {
	return fmt.Sprintf("reelforge:project:%s:changes", projectID)
}

// Load retries transient failures with exponential backoff. A missing key
// is persist.ErrNoDocument.
func (p *ProjectStore) Load(ctx context.Context) (*model.Document, error) {
	delay := p.retryDelay
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		data, err := p.client.Get(ctx, p.key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, persist.ErrNoDocument
		}
		if err == nil {
			var doc model.Document
			if err := json.Unmarshal(data, &doc); err != nil {
				return nil, fmt.Errorf("decode project %s: %w", p.key, err)
			}
			return &doc, nil
		}

		lastErr = err
		if attempt < p.maxRetries-1 {
			logger.Warn("读取项目失败，准备重试",
				logger.String("key", p.key),
				logger.Int("attempt", attempt+1),
				logger.ErrorField(err))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2 // 指数退避
		}
	}
	return nil, fmt.Errorf("load project %s: %w", p.key, lastErr)
}

// Save 写入文档并在同一事务中发布
func (p *ProjectStore) Save(ctx context.Context, doc *model.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode project: %w", err)
	}
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, p.key, data, 0)
		pipe.Publish(ctx, p.channel, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save project %s: %w", p.key, err)
	}
	logger.Debug("项目已写入 Redis", logger.String("key", p.key), logger.Int("bytes", len(data)))
	return nil
}

// Watch 订阅变更频道直到 ctx 结束
func (p *ProjectStore) Watch(ctx context.Context, fn func(*model.Document)) error {
	sub := p.client.Subscribe(ctx, p.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", p.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var doc model.Document
			if err := json.Unmarshal([]byte(msg.Payload), &doc); err != nil {
				logger.Warn("忽略无法解析的项目通知", logger.String("channel", p.channel), logger.ErrorField(err))
				continue
			}
			fn(&doc)
		}
	}
}
