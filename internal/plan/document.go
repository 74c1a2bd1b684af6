package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "Orchestra-Engine/internal/errors"
	"Orchestra-Engine/internal/orchestration"
)

// Format 标识文档的编码格式。
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Document 是编排的声明式描述。
type Document struct {
	ID          string      `json:"id,omitempty" yaml:"id,omitempty"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Levels      []LevelSpec `json:"levels" yaml:"levels"`
}

// LevelSpec 描述一个层级，Type 决定其余字段中哪些生效。
type LevelSpec struct {
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Type        string `json:"type" yaml:"type"`

	Tasks      []TaskSpec      `json:"tasks,omitempty" yaml:"tasks,omitempty"`
	Conditions []ConditionSpec `json:"conditions,omitempty" yaml:"conditions,omitempty"`

	MaxIterations int            `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	Completion    *PredicateSpec `json:"completion,omitempty" yaml:"completion,omitempty"`
	Initial       any            `json:"initial,omitempty" yaml:"initial,omitempty"`

	Items     []any      `json:"items,omitempty" yaml:"items,omitempty"`
	Range     *RangeSpec `json:"range,omitempty" yaml:"range,omitempty"`
	ChunkSize int        `json:"chunk_size,omitempty" yaml:"chunk_size,omitempty"`
	Parallel  bool       `json:"parallel,omitempty" yaml:"parallel,omitempty"`
	Task      *TaskSpec  `json:"task,omitempty" yaml:"task,omitempty"`

	MinSuccessRate float64 `json:"min_success_rate,omitempty" yaml:"min_success_rate,omitempty"`
	MaxDuration    string  `json:"max_duration,omitempty" yaml:"max_duration,omitempty"`
}

// TaskSpec 描述一个任务，Handler 为注册表中的处理函数名称。
type TaskSpec struct {
	ID          string         `json:"id,omitempty" yaml:"id,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Handler     string         `json:"handler" yaml:"handler"`
	Params      map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	DependsOn   []string       `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Retry       *RetrySpec     `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// RetrySpec 为任务声明重试与熔断策略。
type RetrySpec struct {
	MaxAttempts      int     `json:"max_attempts" yaml:"max_attempts"`
	Backoff          string  `json:"backoff,omitempty" yaml:"backoff,omitempty"`
	MaxBackoff       string  `json:"max_backoff,omitempty" yaml:"max_backoff,omitempty"`
	BreakerThreshold int     `json:"breaker_threshold,omitempty" yaml:"breaker_threshold,omitempty"`
	BreakerCooldown  string  `json:"breaker_cooldown,omitempty" yaml:"breaker_cooldown,omitempty"`
	RetryRate        float64 `json:"retry_rate,omitempty" yaml:"retry_rate,omitempty"`
	RetryBurst       int     `json:"retry_burst,omitempty" yaml:"retry_burst,omitempty"`
}

// PredicateSpec 引用一个注册的谓词及其参数。
type PredicateSpec struct {
	Predicate string         `json:"predicate" yaml:"predicate"`
	Params    map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// ConditionSpec 描述条件层级的一条分支。
type ConditionSpec struct {
	Name           string `json:"name,omitempty" yaml:"name,omitempty"`
	PredicateSpec  `yaml:",inline"`
	Actions        []TaskSpec `json:"actions" yaml:"actions"`
	BreakOnSuccess bool       `json:"break_on_success,omitempty" yaml:"break_on_success,omitempty"`
}

// RangeSpec 生成闭区间 [From, To] 内的整数数据项。
type RangeSpec struct {
	From int `json:"from" yaml:"from"`
	To   int `json:"to" yaml:"to"`
}

// FormatFromPath 根据扩展名推断格式，无法识别时返回 JSON。
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// FormatFromContentType 根据 HTTP Content-Type 推断格式。
func FormatFromContentType(contentType string) Format {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "yaml") {
		return FormatYAML
	}
	return FormatJSON
}

// Decode 读取并解析文档，未知字段视为错误。
func Decode(r io.Reader, format Format) (Document, error) {
	var doc Document
	data, err := io.ReadAll(r)
	if err != nil {
		return doc, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "read document")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, xerrors.New(orchestration.CodeValidation, "document is empty")
	}
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&doc)
	case FormatJSON, "":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		dec.UseNumber()
		err = dec.Decode(&doc)
	default:
		return doc, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unsupported document format %q", format))
	}
	if err != nil {
		return doc, xerrors.Wrap(orchestration.CodeValidation, err, "decode document")
	}
	return doc, nil
}

// DecodeFile 从文件读取文档。
func DecodeFile(path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return Document{}, xerrors.Wrap(xerrors.CodeNotFound, err, "open document")
	}
	defer f.Close()
	return Decode(f, FormatFromPath(path))
}
