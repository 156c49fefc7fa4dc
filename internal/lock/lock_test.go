package lock

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestNopLockerAlwaysGrants(t *testing.T) {
	var l Locker = NopLocker{}
	for i := 0; i < 2; i++ {
		ok, err := l.Acquire(context.Background(), "run")
		if !ok || err != nil {
			t.Fatalf("got %v %v", ok, err)
		}
	}
	if err := l.Release(context.Background(), "run"); err != nil {
		t.Fatal(err)
	}
}

func TestRedisLockerReportsUnreachableServer(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	l := NewRedisLocker(rdb, "", 0)
	defer l.Close()

	if l.key != DefaultKey || l.ttl != DefaultTTL {
		t.Errorf("defaults: %q %v", l.key, l.ttl)
	}
	ok, err := l.Acquire(context.Background(), "run")
	if ok || err == nil {
		t.Fatalf("expected failure, got %v %v", ok, err)
	}
}

func TestNewRedisLockerFromURL(t *testing.T) {
	if _, err := NewRedisLockerFromURL("not a url", "", 0); err == nil {
		t.Error("expected parse error")
	}
	l, err := NewRedisLockerFromURL("redis://127.0.0.1:6379/2", "k", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	if l.key != "k" || l.ttl != time.Minute {
		t.Errorf("got %q %v", l.key, l.ttl)
	}
}
