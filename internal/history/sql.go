package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	xerrors "Orchestra-Engine/internal/errors"
	"Orchestra-Engine/internal/orchestration"
)

// DefaultTable 是归档表的默认名称。
const DefaultTable = "orchestration_history"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// SQLSink 将归档写入关系型数据库，MySQL 与 SQLite 共用同一实现。
type SQLSink struct {
	db      *sql.DB
	dialect string
	table   string
}

// OpenMySQL 使用 DSN 连接 MySQL 并执行迁移。
func OpenMySQL(ctx context.Context, dsn, table string) (*SQLSink, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析 MySQL DSN 失败")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(10 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}
	sink, err := newSQLSink(ctx, db, DriverMySQL, table)
	if err != nil {
		db.Close()
		return nil, err
	}
	return sink, nil
}

// OpenSQLite 打开本地 SQLite 文件并执行迁移。
func OpenSQLite(ctx context.Context, path, table string) (*SQLSink, error) {
	if strings.TrimSpace(path) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "SQLite 路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建 SQLite 目录失败")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开 SQLite 失败")
	}
	// 单连接避免 SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "启用 WAL 失败")
	}
	sink, err := newSQLSink(ctx, db, DriverSQLite, table)
	if err != nil {
		db.Close()
		return nil, err
	}
	return sink, nil
}

func newSQLSink(ctx context.Context, db *sql.DB, dialect, table string) (*SQLSink, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("非法的表名 %q", table))
	}
	if err := runMigrations(ctx, db, dialect, table); err != nil {
		return nil, err
	}
	return &SQLSink{db: db, dialect: dialect, table: table}, nil
}

// Archive 插入一条记录，完整记录以 JSON 存放在 payload 列。
func (s *SQLSink) Archive(ctx context.Context, entry orchestration.HistoryEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化历史记录失败")
	}
	query := fmt.Sprintf(`INSERT INTO %s
    (id, orchestration_id, status, quality_score, error_code, duration_ms, payload, recorded_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	_, err = s.db.ExecContext(ctx, query,
		entry.ID,
		entry.OrchestrationID,
		string(entry.Status),
		entry.QualityScore,
		entry.ErrorCode,
		entry.Duration.Milliseconds(),
		string(payload),
		entry.Timestamp.UnixMilli(),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入历史归档失败")
	}
	return nil
}

// List 实现 Sink。
func (s *SQLSink) List(ctx context.Context, limit int) ([]orchestration.HistoryEntry, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s ORDER BY recorded_at DESC, id DESC`, s.table)
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询历史归档失败")
	}
	defer rows.Close()

	var entries []orchestration.HistoryEntry
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析历史归档失败")
		}
		var entry orchestration.HistoryEntry
		if err := json.Unmarshal([]byte(payload), &entry); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "反序列化历史记录失败")
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历历史归档失败")
	}
	return entries, nil
}

// Dialect 返回数据库方言。
func (s *SQLSink) Dialect() string { return s.dialect }

// Close 关闭连接池。
func (s *SQLSink) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
