// Package storetest is the conformance suite every store backend runs.
package storetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rmax-ai/acebot/pkg/store"
)

// Expire lets a backend move time past a claim's ttl. Backends that use the
// wall clock pass a func that sleeps.
type Expire func(d time.Duration)

// RunStorageTests runs the suite against s. Keys are namespaced by subtest,
// so s may be shared.
func RunStorageTests(t *testing.T, s store.ClaimingStorage, expire Expire) {
	ctx := context.Background()

	t.Run("Write and Read", func(t *testing.T) {
		err := s.Write(ctx, map[string][]byte{"rw:a": []byte("1"), "rw:b": []byte("2")})
		if err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		got, err := s.Read(ctx, []string{"rw:a", "rw:b", "rw:missing"})
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if len(got) != 2 || string(got["rw:a"]) != "1" || string(got["rw:b"]) != "2" {
			t.Errorf("Read = %q; want a=1 b=2 only", got)
		}
		if _, ok := got["rw:missing"]; ok {
			t.Error("missing key present in result")
		}
	})

	t.Run("Last write wins", func(t *testing.T) {
		for _, v := range []string{"first", "second", "third"} {
			if err := s.Write(ctx, map[string][]byte{"lww:k": []byte(v)}); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
		}
		got, err := s.Read(ctx, []string{"lww:k"})
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if string(got["lww:k"]) != "third" {
			t.Errorf("value = %q; want third", got["lww:k"])
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := s.Write(ctx, map[string][]byte{"del:k": []byte("v")}); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if err := s.Delete(ctx, []string{"del:k", "del:never-written"}); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		got, err := s.Read(ctx, []string{"del:k"})
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("Read after delete = %q; want empty", got)
		}
	})

	t.Run("Empty key", func(t *testing.T) {
		err := s.Write(ctx, map[string][]byte{"": []byte("v")})
		if !errors.Is(err, store.ErrEmptyKey) {
			t.Errorf("Write(\"\") error = %v; want ErrEmptyKey", err)
		}
	})

	t.Run("Claim once", func(t *testing.T) {
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.Claim(ctx, "claim:once", []byte("x"), time.Minute)
				if err != nil {
					t.Errorf("Claim failed: %v", err)
					return
				}
				if ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		if wins.Load() != 1 {
			t.Errorf("claims won = %d; want 1", wins.Load())
		}
	})

	t.Run("Claim after expiry", func(t *testing.T) {
		ok, err := s.Claim(ctx, "claim:ttl", []byte("x"), 50*time.Millisecond)
		if err != nil || !ok {
			t.Fatalf("first Claim = %v, %v; want true", ok, err)
		}
		expire(100 * time.Millisecond)
		ok, err = s.Claim(ctx, "claim:ttl", []byte("y"), time.Minute)
		if err != nil || !ok {
			t.Errorf("Claim after expiry = %v, %v; want true", ok, err)
		}
	})
}
