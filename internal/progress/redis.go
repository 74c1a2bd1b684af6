package progress

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"

	xerrors "Orchestra-Engine/internal/errors"
	"Orchestra-Engine/internal/orchestration"
)

// RedisConfig 描述 Redis 发布通道。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Channel  string
}

// pubClient 是 RedisPublisher 用到的命令子集。
type pubClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisPublisher 通过 PUBLISH 广播进度事件，消息体为 JSON。
type RedisPublisher struct {
	client  pubClient
	channel string
}

// NewRedisPublisher 连接 Redis 并校验可用性。
func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, xerrors.Wrap(xerrors.CodePublishFailure, err, "连接 Redis 失败")
	}
	return newRedisPublisher(client, cfg.Channel), nil
}

func newRedisPublisher(client pubClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = "orchd:progress"
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Notify 实现 orchestration.ProgressSubscriber。
func (p *RedisPublisher) Notify(ctx context.Context, event orchestration.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "序列化进度事件失败")
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "Redis 发布进度事件失败")
	}
	return nil
}

// Close 关闭 Redis 连接。
func (p *RedisPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
