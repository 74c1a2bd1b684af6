package history

import (
	"context"
	"strings"

	"Orchestra-Engine/internal/config"
	xerrors "Orchestra-Engine/internal/errors"
	"Orchestra-Engine/internal/orchestration"
)

// Sink 是可读取、可关闭的归档目标。
type Sink interface {
	orchestration.HistorySink
	// List 返回最近归档的 limit 条记录，按时间倒序；limit <= 0 时返回全部。
	List(ctx context.Context, limit int) ([]orchestration.HistoryEntry, error)
	Close() error
}

// 支持的驱动名称。
const (
	DriverNone   = "none"
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Open 根据配置创建归档目标，driver 为 none 时返回 nil。
func Open(ctx context.Context, cfg config.HistorySinkConfig) (Sink, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverNone:
		return nil, nil
	case DriverMemory:
		return NewMemorySink(), nil
	case DriverFile:
		return NewFileSink(cfg.Path)
	case DriverMySQL:
		return OpenMySQL(ctx, cfg.DSN, cfg.Table)
	case DriverSQLite:
		return OpenSQLite(ctx, cfg.Path, cfg.Table)
	case DriverRedis:
		return NewRedisSink(ctx, RedisConfig{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Key:      cfg.RedisKey,
			MaxLen:   cfg.RedisMaxLen,
		})
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "不支持的历史归档驱动: "+cfg.Driver)
	}
}

// newestFirst 从按时间正序的切片中取最后 limit 条并反转。
func newestFirst(entries []orchestration.HistoryEntry, limit int) []orchestration.HistoryEntry {
	n := len(entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]orchestration.HistoryEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, entries[i])
	}
	return out
}
