package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/tariel-x/livedesk/internal/database"
)

func newSQLiteStore(t *testing.T) *SQLite {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	s := NewSQLite(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": newSQLiteStore(t),
	}
}

func TestGetMissingKey(t *testing.T) {
	for name, s := range stores(t) {
		if _, err := s.Get(context.Background(), "absent"); !errors.Is(err, ErrMiss) {
			t.Fatalf("%s: expected ErrMiss, got %v", name, err)
		}
	}
}

func TestSetGetOverwriteDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		if err := s.Set(ctx, KeyInvites, []byte(`[1]`)); err != nil {
			t.Fatalf("%s: set: %v", name, err)
		}
		if err := s.Set(ctx, KeyInvites, []byte(`[1,2]`)); err != nil {
			t.Fatalf("%s: overwrite: %v", name, err)
		}
		got, err := s.Get(ctx, KeyInvites)
		if err != nil {
			t.Fatalf("%s: get: %v", name, err)
		}
		if string(got) != `[1,2]` {
			t.Fatalf("%s: expected [1,2], got %s", name, got)
		}

		if err := s.Delete(ctx, KeyInvites); err != nil {
			t.Fatalf("%s: delete: %v", name, err)
		}
		if _, err := s.Get(ctx, KeyInvites); !errors.Is(err, ErrMiss) {
			t.Fatalf("%s: expected miss after delete, got %v", name, err)
		}
		if err := s.Delete(ctx, KeyInvites); err != nil {
			t.Fatalf("%s: deleting a missing key should succeed: %v", name, err)
		}
	}
}

func TestUpdateReadModifyWrite(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		err := s.Update(ctx, KeyUnreadCount, func(cur []byte) ([]byte, error) {
			if cur != nil {
				t.Fatalf("%s: expected nil current value, got %s", name, cur)
			}
			return []byte("1"), nil
		})
		if err != nil {
			t.Fatalf("%s: first update: %v", name, err)
		}

		err = s.Update(ctx, KeyUnreadCount, func(cur []byte) ([]byte, error) {
			return append(cur, '0'), nil
		})
		if err != nil {
			t.Fatalf("%s: second update: %v", name, err)
		}
		got, _ := s.Get(ctx, KeyUnreadCount)
		if string(got) != "10" {
			t.Fatalf("%s: expected 10, got %s", name, got)
		}

		if err := s.Update(ctx, KeyUnreadCount, func([]byte) ([]byte, error) { return nil, nil }); err != nil {
			t.Fatalf("%s: deleting update: %v", name, err)
		}
		if _, err := s.Get(ctx, KeyUnreadCount); !errors.Is(err, ErrMiss) {
			t.Fatalf("%s: expected miss after nil update, got %v", name, err)
		}
	}
}

func TestUpdateErrorLeavesValue(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	for name, s := range stores(t) {
		_ = s.Set(ctx, KeyPendingBuffer, []byte(`["a"]`))
		err := s.Update(ctx, KeyPendingBuffer, func([]byte) ([]byte, error) { return []byte(`[]`), boom })
		if !errors.Is(err, boom) {
			t.Fatalf("%s: expected boom, got %v", name, err)
		}
		got, _ := s.Get(ctx, KeyPendingBuffer)
		if string(got) != `["a"]` {
			t.Fatalf("%s: value changed after failed update: %s", name, got)
		}
	}
}

func TestSubscribeSeesWritesUntilCancelled(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		var (
			mu   sync.Mutex
			seen []string
		)
		cancel := s.Subscribe(KeyInvites, func(v []byte) {
			mu.Lock()
			defer mu.Unlock()
			if v == nil {
				seen = append(seen, "<deleted>")
				return
			}
			seen = append(seen, string(v))
		})

		_ = s.Set(ctx, "other", []byte("x"))
		_ = s.Set(ctx, KeyInvites, []byte("a"))
		_ = s.Update(ctx, KeyInvites, func([]byte) ([]byte, error) { return []byte("b"), nil })
		_ = s.Delete(ctx, KeyInvites)
		cancel()
		cancel()
		_ = s.Set(ctx, KeyInvites, []byte("c"))

		mu.Lock()
		got := append([]string(nil), seen...)
		mu.Unlock()

		want := []string{"a", "b", "<deleted>"}
		if len(got) != len(want) {
			t.Fatalf("%s: expected %v, got %v", name, want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%s: expected %v, got %v", name, want, got)
			}
		}
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	type entry struct {
		ID string `json:"id"`
	}
	if err := SetJSON(ctx, s, KeyInvites, []entry{{ID: "x"}}); err != nil {
		t.Fatalf("set json: %v", err)
	}
	var out []entry
	if err := GetJSON(ctx, s, KeyInvites, &out); err != nil {
		t.Fatalf("get json: %v", err)
	}
	if len(out) != 1 || out[0].ID != "x" {
		t.Fatalf("unexpected decoded value: %+v", out)
	}
	if err := GetJSON(ctx, s, "absent", &out); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
}

func TestMemoryClosed(t *testing.T) {
	s := NewMemory()
	_ = s.Close()
	if err := s.Set(context.Background(), "k", []byte("v")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := s.Get(context.Background(), "k"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSQLiteVersionBumps(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	for i := 0; i < 3; i++ {
		if err := s.Set(ctx, KeyInvites, []byte("v")); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	var version int64
	if err := s.db.Table("records").Select("version").Where("`key` = ?", KeyInvites).Scan(&version).Error; err != nil {
		t.Fatalf("read version: %v", err)
	}
	if version != 3 {
		t.Fatalf("expected version 3, got %d", version)
	}
}

func TestNewRedisRejectsBadURL(t *testing.T) {
	if _, err := NewRedis(context.Background(), "", nil); err == nil {
		t.Fatalf("expected error for empty url")
	}
	if _, err := NewRedis(context.Background(), "not-a-url", nil); err == nil {
		t.Fatalf("expected error for malformed url")
	}
}
