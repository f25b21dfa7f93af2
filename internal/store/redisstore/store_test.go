package redisstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
)

// fakeRedis keeps values in a map and answers with go-redis result values.
type fakeRedis struct {
	mu     sync.Mutex
	data   map[string]string
	ttls   map[string]time.Duration
	getErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := value.([]byte)
	if !ok {
		return redis.NewStatusResult("", errors.New("unexpected value type"))
	}
	f.data[key] = string(b)
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Close() error { return nil }

func TestVectorEncoding(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 3.4028235e38}
	out, err := decodeVector(encodeVector(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("vector changed (-in +out):\n%s", diff)
	}

	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for truncated vector")
	}
}

func TestStore_GetSetVector(t *testing.T) {
	rdb := newFakeRedis()
	s := &Store{rdb: rdb, ttl: time.Hour}
	ctx := context.Background()

	vec, ok, err := s.GetVector(ctx, "emb:m:missing")
	if err != nil || ok || vec != nil {
		t.Fatalf("miss = %v %v %v", vec, ok, err)
	}

	want := []float32{0.25, -1, 3}
	if err := s.SetVector(ctx, "emb:m:k", want); err != nil {
		t.Fatalf("SetVector: %v", err)
	}
	if rdb.ttls["emb:m:k"] != time.Hour {
		t.Fatalf("ttl = %s", rdb.ttls["emb:m:k"])
	}
	got, ok, err := s.GetVector(ctx, "emb:m:k")
	if err != nil || !ok {
		t.Fatalf("hit: ok=%v err=%v", ok, err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("vector changed (-want +got):\n%s", diff)
	}
}

func TestStore_GetVectorErrors(t *testing.T) {
	rdb := newFakeRedis()
	s := &Store{rdb: rdb}
	ctx := context.Background()

	rdb.data["emb:m:bad"] = "abc"
	if _, ok, err := s.GetVector(ctx, "emb:m:bad"); err == nil || ok {
		t.Fatalf("corrupt payload: ok=%v err=%v", ok, err)
	}

	down := errors.New("connection refused")
	rdb.getErr = down
	if _, ok, err := s.GetVector(ctx, "emb:m:k"); !errors.Is(err, down) || ok {
		t.Fatalf("backend error: ok=%v err=%v", ok, err)
	}
}
