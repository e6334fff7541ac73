package store

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/alimasry/go-collab-ot/config"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	sqlitePath := filepath.Join(t.TempDir(), "collab.db")

	tests := []struct {
		name string
		cfg  config.StoreConfig
		want string
	}{
		{"memory", config.StoreConfig{Backend: config.BackendMemory}, "*store.MemoryStore"},
		{"sqlite", config.StoreConfig{Backend: config.BackendSQLite, SQLitePath: sqlitePath}, "*store.SQLiteStore"},
		{"cached", config.StoreConfig{Backend: config.BackendMemory, FlushInterval: time.Hour}, "*store.CachedStore"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(ctx, tt.cfg, discardLogger())
			if err != nil {
				t.Fatal(err)
			}
			if c, ok := s.(io.Closer); ok {
				t.Cleanup(func() { c.Close() })
			}
			if got := fmt.Sprintf("%T", s); got != tt.want {
				t.Errorf("Open() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), config.StoreConfig{Backend: "etcd"}, discardLogger()); err == nil {
		t.Error("expected error for unknown backend")
	}
}
