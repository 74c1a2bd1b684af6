package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"Orchestra-Engine/internal/config"
	xerrors "Orchestra-Engine/internal/errors"
	"Orchestra-Engine/internal/orchestration"
	"Orchestra-Engine/pkg/logger"
)

type fakePub struct {
	mu       sync.Mutex
	channels []string
	messages [][]byte
	fail     error
}

func (f *fakePub) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if f.fail != nil {
		cmd.SetErr(f.fail)
		return cmd
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channel)
	f.messages = append(f.messages, message.([]byte))
	cmd.SetVal(1)
	return cmd
}

func (f *fakePub) Close() error { return nil }

func (f *fakePub) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type fakeChannel struct {
	declared  string
	kind      string
	keys      []string
	published []amqp.Publishing
	closed    bool
	declErr   error
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.declared, f.kind = name, kind
	return f.declErr
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestRedisPublisherEncodesEvents(t *testing.T) {
	client := &fakePub{}
	pub := newRedisPublisher(client, "")
	event := orchestration.Event{ID: "e1", OrchestrationID: "o1", State: orchestration.EventTaskSucceeded, TaskIndex: 2}
	if err := pub.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if client.channels[0] != "orchd:progress" {
		t.Fatalf("channel = %s", client.channels[0])
	}
	var decoded orchestration.Event
	if err := json.Unmarshal(client.messages[0], &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != "e1" || decoded.TaskIndex != 2 || decoded.State != orchestration.EventTaskSucceeded {
		t.Fatalf("decoded = %+v", decoded)
	}

	failing := newRedisPublisher(&fakePub{fail: errors.New("down")}, "c")
	if err := failing.Notify(context.Background(), event); !errors.Is(err, xerrors.New(xerrors.CodePublishFailure, "")) {
		t.Fatalf("expected publish failure, got %v", err)
	}
}

func TestRabbitMQPublisherRoutesByState(t *testing.T) {
	ch := &fakeChannel{}
	pub, err := newRabbitMQPublisher(ch, RabbitMQConfig{})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if ch.declared != "orchd.progress" || ch.kind != amqp.ExchangeTopic {
		t.Fatalf("declared %s (%s)", ch.declared, ch.kind)
	}
	event := orchestration.Event{ID: "e1", OrchestrationID: "o1", State: orchestration.EventLevelFailed}
	if err := pub.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if ch.keys[0] != "progress.level_failed" {
		t.Fatalf("routing key = %s", ch.keys[0])
	}
	msg := ch.published[0]
	if msg.ContentType != "application/json" || msg.MessageId != "e1" || msg.Timestamp.IsZero() {
		t.Fatalf("publishing = %+v", msg)
	}
	if err := pub.Close(); err != nil || !ch.closed {
		t.Fatalf("close: %v", err)
	}

	custom, _ := newRabbitMQPublisher(&fakeChannel{}, RabbitMQConfig{Exchange: "x", RoutingKey: "orch.{state}.v1"})
	if key := custom.RoutingKey(event); key != "orch.level_failed.v1" {
		t.Fatalf("custom routing key = %s", key)
	}

	broken := &fakeChannel{declErr: errors.New("access refused")}
	if _, err := newRabbitMQPublisher(broken, RabbitMQConfig{}); err == nil || !broken.closed {
		t.Fatalf("expected declare failure to close channel, err = %v", err)
	}
}

func TestLogSubscriber(t *testing.T) {
	var buf bytes.Buffer
	sub := NewLogSubscriber(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	_ = sub.Notify(context.Background(), orchestration.Event{OrchestrationID: "o", State: orchestration.EventTaskFailed, LevelID: "l", TaskIndex: 1, Message: "boom"})
	_ = sub.Notify(context.Background(), orchestration.Event{OrchestrationID: "o", State: orchestration.EventOrchestrationStarted, TaskIndex: -1})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}
	var first, second map[string]any
	_ = json.Unmarshal([]byte(lines[0]), &first)
	_ = json.Unmarshal([]byte(lines[1]), &second)
	if first["level"] != "WARN" || first["level_id"] != "l" || first["message"] != "boom" {
		t.Fatalf("first = %v", first)
	}
	if second["level"] != "INFO" {
		t.Fatalf("second = %v", second)
	}
	if _, ok := second["task_index"]; ok {
		t.Fatalf("orchestration events should omit task_index")
	}
}

func TestOpenFromConfig(t *testing.T) {
	ctx := context.Background()
	pub, err := Open(ctx, config.ProgressConfig{}, nil)
	if err != nil || pub != nil {
		t.Fatalf("none driver: %v %v", pub, err)
	}
	pub, err = Open(ctx, config.ProgressConfig{Driver: "log"}, logger.Discard())
	if err != nil {
		t.Fatalf("log driver: %v", err)
	}
	if _, ok := pub.(*LogSubscriber); !ok {
		t.Fatalf("unexpected publisher %T", pub)
	}
	if _, err := Open(ctx, config.ProgressConfig{Driver: "redis"}, nil); !errors.Is(err, xerrors.New(xerrors.CodeInvalidArgument, "")) {
		t.Fatalf("redis without address: %v", err)
	}
	if _, err := Open(ctx, config.ProgressConfig{Driver: "rabbitmq"}, nil); !errors.Is(err, xerrors.New(xerrors.CodeInvalidArgument, "")) {
		t.Fatalf("rabbitmq without url: %v", err)
	}
	if _, err := Open(ctx, config.ProgressConfig{Driver: "kafka"}, nil); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestEngineDeliversToPublisher(t *testing.T) {
	client := &fakePub{}
	engine, err := orchestration.NewEngine(orchestration.Config{ConcurrencyLimit: 1},
		orchestration.WithLogger(logger.Discard()),
		orchestration.WithAuditLogger(logger.Discard()),
		orchestration.WithProgressSubscriber(newRedisPublisher(client, "c"), 64))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	orch := orchestration.Orchestration{Levels: []orchestration.Level{{
		ID: "l",
		Type: orchestration.Sequential{Tasks: []orchestration.Task{{
			Handler: func(orchestration.TaskContext) (orchestration.Value, error) { return nil, nil },
		}}},
	}}}
	if _, err := engine.Submit(context.Background(), orch); err != nil {
		t.Fatalf("submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = engine.Close(ctx)
	// orchestration started, level started, task started, task succeeded, level succeeded, orchestration succeeded
	if got := client.count(); got != 6 {
		t.Fatalf("expected 6 published events, got %d", got)
	}
}
