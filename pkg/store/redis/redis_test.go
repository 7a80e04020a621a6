package redis

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rmax-ai/acebot/pkg/store/storetest"
)

func TestRedisStorage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewStorage(client, "test:")
	defer s.Close()

	storetest.RunStorageTests(t, s, mr.FastForward)

	if !mr.Exists("test:rw:a") {
		t.Error("expected keys to carry the configured prefix")
	}
}
