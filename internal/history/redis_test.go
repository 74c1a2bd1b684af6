package history

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
)

type fakeList struct {
	items  []string
	closed bool
	fail   error
}

func (f *fakeList) LPush(ctx context.Context, _ string, values ...interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if f.fail != nil {
		cmd.SetErr(f.fail)
		return cmd
	}
	for _, v := range values {
		var s string
		switch raw := v.(type) {
		case []byte:
			s = string(raw)
		case string:
			s = raw
		}
		f.items = append([]string{s}, f.items...)
	}
	cmd.SetVal(int64(len(f.items)))
	return cmd
}

func (f *fakeList) LTrim(ctx context.Context, _ string, start, stop int64) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if stop+1 < int64(len(f.items)) {
		f.items = f.items[start : stop+1]
	}
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeList) LRange(ctx context.Context, _ string, start, stop int64) *redis.StringSliceCmd {
	cmd := redis.NewStringSliceCmd(ctx)
	end := int64(len(f.items))
	if stop >= 0 && stop+1 < end {
		end = stop + 1
	}
	cmd.SetVal(append([]string(nil), f.items[start:end]...))
	return cmd
}

func (f *fakeList) Close() error {
	f.closed = true
	return nil
}

func TestRedisSinkTrimsAndLists(t *testing.T) {
	client := &fakeList{}
	sink := newRedisSink(client, "", 2)
	if sink.key != "orchd:history" {
		t.Fatalf("default key = %s", sink.key)
	}
	archiveAll(t, sink, 3)
	if len(client.items) != 2 {
		t.Fatalf("expected list trimmed to 2, got %d", len(client.items))
	}
	entries, err := sink.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	assertNewestFirst(t, entries, "entry-3", "entry-2")
	one, _ := sink.List(context.Background(), 1)
	assertNewestFirst(t, one, "entry-3")
	if err := sink.Close(); err != nil || !client.closed {
		t.Fatalf("close: %v", err)
	}
}

func TestRedisSinkWrapsErrors(t *testing.T) {
	sink := newRedisSink(&fakeList{fail: errors.New("connection refused")}, "k", 0)
	err := sink.Archive(context.Background(), sampleEntry(1))
	if err == nil || !errors.Is(err, errStorage) {
		t.Fatalf("expected storage failure, got %v", err)
	}
}
