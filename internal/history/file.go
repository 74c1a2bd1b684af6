package history

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	xerrors "Orchestra-Engine/internal/errors"
	"Orchestra-Engine/internal/orchestration"
)

// FileSink 以 JSON Lines 追加写的方式归档，每行一条记录。
type FileSink struct {
	mu   sync.Mutex
	path string
}

// NewFileSink 创建文件归档并确保目录存在。
func NewFileSink(path string) (*FileSink, error) {
	if strings.TrimSpace(path) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "历史归档文件路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建归档目录失败")
	}
	return &FileSink{path: path}, nil
}

// Archive 追加一条记录。
func (f *FileSink) Archive(_ context.Context, entry orchestration.HistoryEntry) error {
	encoded, err := json.Marshal(entry)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化历史记录失败")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开归档文件失败")
	}
	defer file.Close()
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入归档文件失败")
	}
	return nil
}

// List 读取整个文件并返回最近的记录，无法解析的行会被跳过。
func (f *FileSink) List(_ context.Context, limit int) ([]orchestration.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开归档文件失败")
	}
	defer file.Close()

	var entries []orchestration.HistoryEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry orchestration.HistoryEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取归档文件失败")
	}
	return newestFirst(entries, limit), nil
}

// Path 返回归档文件路径。
func (f *FileSink) Path() string { return f.path }

// Close 无需释放资源。
func (f *FileSink) Close() error { return nil }
