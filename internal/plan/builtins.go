package plan

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	xerrors "Orchestra-Engine/internal/errors"
	"Orchestra-Engine/internal/orchestration"
)

func builtinHandlers() map[string]orchestration.TaskHandler {
	return map[string]orchestration.TaskHandler{
		"noop":  noopHandler,
		"echo":  echoHandler,
		"sleep": sleepHandler,
		"add":   addHandler,
		"fail":  failHandler,
		"sum":   sumHandler,
	}
}

func builtinPredicates() map[string]PredicateFactory {
	return map[string]PredicateFactory{
		"always":    func(map[string]any) (orchestration.Predicate, error) { return func(orchestration.EvalState) bool { return true }, nil },
		"never":     func(map[string]any) (orchestration.Predicate, error) { return func(orchestration.EvalState) bool { return false }, nil },
		"value_gte": valueGTE,
		"last_ok":   func(map[string]any) (orchestration.Predicate, error) { return lastOK, nil },
	}
}

// noop 原样返回输入。
func noopHandler(tc orchestration.TaskContext) (orchestration.Value, error) {
	return tc.Input, nil
}

// echo 返回 params.value，未设置时返回输入。
func echoHandler(tc orchestration.TaskContext) (orchestration.Value, error) {
	if v, ok := tc.Params["value"]; ok {
		return v, nil
	}
	return tc.Input, nil
}

// sleep 等待 params.duration 后返回输入，可被取消。
func sleepHandler(tc orchestration.TaskContext) (orchestration.Value, error) {
	raw, _ := tc.Params["duration"].(string)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "sleep requires params.duration")
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return tc.Input, nil
	case <-tc.Done():
		return nil, tc.Err()
	}
}

// add 将 params.amount 加到当前值上，当前值缺省为 0。
func addHandler(tc orchestration.TaskContext) (orchestration.Value, error) {
	amount, ok := tc.Params["amount"]
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "add requires params.amount")
	}
	current := tc.Input
	if current == nil {
		current = 0
	}
	return addNumbers(current, amount)
}

// fail 返回 params.message 描述的错误，params.retryable 控制是否可重试。
func failHandler(tc orchestration.TaskContext) (orchestration.Value, error) {
	msg, _ := tc.Params["message"].(string)
	if msg == "" {
		msg = "task failed"
	}
	retryable, _ := tc.Params["retryable"].(bool)
	return nil, xerrors.New(CodeInjectedFailure, msg, xerrors.WithRetryable(retryable))
}

// sum 将数据项累加到当前值；输入为切片且没有数据项时求切片之和。
func sumHandler(tc orchestration.TaskContext) (orchestration.Value, error) {
	if tc.Item == nil {
		if items, ok := tc.Input.([]orchestration.Value); ok {
			var total orchestration.Value = 0
			for _, item := range items {
				next, err := addNumbers(total, item)
				if err != nil {
					return nil, err
				}
				total = next
			}
			return total, nil
		}
	}
	current := tc.Input
	if current == nil {
		current = 0
	}
	if tc.Item == nil {
		return current, nil
	}
	return addNumbers(current, tc.Item)
}

func valueGTE(params map[string]any) (orchestration.Predicate, error) {
	raw, ok := params["threshold"]
	if !ok {
		return nil, xerrors.New(orchestration.CodeValidation, "value_gte requires params.threshold")
	}
	threshold, _, err := toNumber(raw)
	if err != nil {
		return nil, xerrors.Wrap(orchestration.CodeValidation, err, "value_gte threshold")
	}
	return func(state orchestration.EvalState) bool {
		v, _, err := toNumber(state.Value)
		return err == nil && v >= threshold
	}, nil
}

func lastOK(state orchestration.EvalState) bool {
	n := len(state.Results)
	return n > 0 && state.Results[n-1].Ok()
}

// addNumbers 两个整数相加仍返回 int，否则返回 float64。
func addNumbers(a, b any) (orchestration.Value, error) {
	x, xInt, err := toNumber(a)
	if err != nil {
		return nil, err
	}
	y, yInt, err := toNumber(b)
	if err != nil {
		return nil, err
	}
	if xInt && yInt {
		return int(x) + int(y), nil
	}
	return x + y, nil
}

// toNumber 返回数值以及它是否为整数。
func toNumber(v any) (float64, bool, error) {
	switch n := v.(type) {
	case int:
		return float64(n), true, nil
	case int32:
		return float64(n), true, nil
	case int64:
		return float64(n), true, nil
	case uint64:
		return float64(n), true, nil
	case float32:
		return float64(n), isIntegral(float64(n)), nil
	case float64:
		return n, isIntegral(n), nil
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return float64(i), true, nil
		}
		f, err := n.Float64()
		return f, false, err
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil && isIntegral(f), err
	default:
		return 0, false, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("value %v (%T) is not numeric", v, v))
	}
}

func isIntegral(f float64) bool {
	return f == math.Trunc(f) && math.Abs(f) < 1<<53
}
