package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/timeli"
)

// globEscaper quotes the characters SCAN MATCH treats as patterns.
var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, kvKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, timeli.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("timeli/redis: get %s: %w", key, err)
	}
	return b, nil
}

// Set stores value under key until ttl elapses. A non-positive ttl never
// expires.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, kvKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("timeli/redis: set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, kvKey(key)).Err(); err != nil {
		return fmt.Errorf("timeli/redis: delete %s: %w", key, err)
	}
	return nil
}

// swapScript replaces a value only while it still holds the expected one.
//
// KEYS: value key
// ARGV: expect absent flag, expected value, delete flag, new value, ttl ms
var swapScript = goredis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if ARGV[1] == '1' then
  if cur then
    return 0
  end
elseif cur ~= ARGV[2] then
  return 0
end
if ARGV[3] == '1' then
  redis.call('DEL', KEYS[1])
elseif tonumber(ARGV[5]) > 0 then
  redis.call('SET', KEYS[1], ARGV[4], 'PX', ARGV[5])
else
  redis.call('SET', KEYS[1], ARGV[4])
end
return 1
`)

// Swap replaces the value under key when it currently holds old. A nil
// old expects the key to be absent; a nil value deletes it.
func (s *Store) Swap(ctx context.Context, key string, old, value []byte, ttl time.Duration) (bool, error) {
	n, err := swapScript.Run(ctx, s.client, []string{kvKey(key)},
		flag(old == nil), old, flag(value == nil), value, ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("timeli/redis: swap %s: %w", key, err)
	}
	return n == 1, nil
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Scan returns the live keys starting with prefix, sorted.
func (s *Store) Scan(ctx context.Context, prefix string) ([]string, error) {
	match := globEscaper.Replace(kvKey(prefix)) + "*"

	seen := make(map[string]struct{})
	iter := s.client.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		seen[strings.TrimPrefix(iter.Val(), kvPrefix)] = struct{}{}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("timeli/redis: scan %s: %w", prefix, err)
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
