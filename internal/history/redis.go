package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	xerrors "Orchestra-Engine/internal/errors"
	"Orchestra-Engine/internal/orchestration"
)

// RedisConfig 描述 Redis 归档的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Key      string
	// MaxLen 大于 0 时只保留最近 MaxLen 条。
	MaxLen int64
}

// listClient 是 RedisSink 用到的命令子集，*redis.Client 满足该接口。
type listClient interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Close() error
}

// RedisSink 将归档写入 Redis list，新记录在表头。
type RedisSink struct {
	client listClient
	key    string
	maxLen int64
}

// NewRedisSink 连接 Redis 并校验可用性。
func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
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
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return newRedisSink(client, cfg.Key, cfg.MaxLen), nil
}

func newRedisSink(client listClient, key string, maxLen int64) *RedisSink {
	if key == "" {
		key = "orchd:history"
	}
	return &RedisSink{client: client, key: key, maxLen: maxLen}
}

// Archive 实现 orchestration.HistorySink。
func (r *RedisSink) Archive(ctx context.Context, entry orchestration.HistoryEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化历史记录失败")
	}
	if err := r.client.LPush(ctx, r.key, payload).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 写入历史失败")
	}
	if r.maxLen > 0 {
		if err := r.client.LTrim(ctx, r.key, 0, r.maxLen-1).Err(); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 裁剪历史失败")
		}
	}
	return nil
}

// List 实现 Sink。
func (r *RedisSink) List(ctx context.Context, limit int) ([]orchestration.HistoryEntry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	values, err := r.client.LRange(ctx, r.key, 0, stop).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 读取历史失败")
	}
	entries := make([]orchestration.HistoryEntry, 0, len(values))
	for i, raw := range values {
		var entry orchestration.HistoryEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("解析第 %d 条历史失败", i))
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Close 关闭 Redis 连接。
func (r *RedisSink) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
