package plan

import (
	"fmt"
	"sort"
	"sync"

	xerrors "Orchestra-Engine/internal/errors"
	"Orchestra-Engine/internal/orchestration"
)

// PredicateFactory 根据文档参数构造谓词。
type PredicateFactory func(params map[string]any) (orchestration.Predicate, error)

// Registry 保存按名称引用的处理函数与谓词，可被并发读取。
type Registry struct {
	mu         sync.RWMutex
	handlers   map[string]orchestration.TaskHandler
	predicates map[string]PredicateFactory
}

// NewRegistry 创建空注册表。
func NewRegistry() *Registry {
	return &Registry{
		handlers:   make(map[string]orchestration.TaskHandler),
		predicates: make(map[string]PredicateFactory),
	}
}

// NewBuiltinRegistry 创建预置内建处理函数与谓词的注册表。
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	for name, h := range builtinHandlers() {
		r.handlers[name] = h
	}
	for name, f := range builtinPredicates() {
		r.predicates[name] = f
	}
	return r
}

// RegisterHandler 注册处理函数，同名覆盖。
func (r *Registry) RegisterHandler(name string, handler orchestration.TaskHandler) error {
	if name == "" || handler == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "handler name and function are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
	return nil
}

// RegisterPredicate 注册谓词工厂，同名覆盖。
func (r *Registry) RegisterPredicate(name string, factory PredicateFactory) error {
	if name == "" || factory == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "predicate name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.predicates[name] = factory
	return nil
}

// Handler 按名称查找处理函数。
func (r *Registry) Handler(name string) (orchestration.TaskHandler, error) {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, xerrors.New(orchestration.CodeHandlerNotFound, fmt.Sprintf("handler %q is not registered", name))
	}
	return h, nil
}

// Predicate 按名称构造谓词。
func (r *Registry) Predicate(name string, params map[string]any) (orchestration.Predicate, error) {
	r.mu.RLock()
	f, ok := r.predicates[name]
	r.mu.RUnlock()
	if !ok {
		return nil, xerrors.New(orchestration.CodeHandlerNotFound, fmt.Sprintf("predicate %q is not registered", name))
	}
	return f(params)
}

// Handlers 返回已注册的处理函数名称。
func (r *Registry) Handlers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.handlers)
}

// Predicates 返回已注册的谓词名称。
func (r *Registry) Predicates() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.predicates)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
