package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

func TestRedisStore(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set, skipping Redis tests")
	}
	testDocumentStore(t, func(t *testing.T) DocumentStore {
		ctx := context.Background()
		prefix := fmt.Sprintf("collab-test-%d", time.Now().UnixNano())
		s, err := NewRedisStore(ctx, url, prefix)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() {
			iter := s.client.Scan(ctx, 0, prefix+":*", 100).Iterator()
			for iter.Next(ctx) {
				s.client.Del(ctx, iter.Val())
			}
			s.Close()
		})
		return s
	})
}

func TestNewRedisStore_BadURL(t *testing.T) {
	if _, err := NewRedisStore(context.Background(), "not-a-url", ""); err == nil {
		t.Error("expected error for malformed URL")
	}
}
