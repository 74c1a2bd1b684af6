package migrations

import "embed"

// Files 暴露历史归档表的 SQL 迁移文件，按方言分目录存放。
// 语句中的 {{table}} 在执行时替换为配置的表名。
//
//go:embed mysql/*.sql sqlite/*.sql
var Files embed.FS
