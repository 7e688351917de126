package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("ledger:*"))
	assert.True(t, hasPattern("ledger:trade.?"))
	assert.True(t, hasPattern("ledger:[ab]"))
	assert.False(t, hasPattern("ledger:trade.completed"))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "lock:ledger:writer", lockKey("ledger:writer"))
	assert.Equal(t, "ratelimit:api:0xabc", rateLimitKey("api:0xabc"))
	assert.Equal(t, "replay:0xabc:0x01", replayKey("0xabc:0x01"))
}

func TestStreamPayload(t *testing.T) {
	got, ok := streamPayload(map[string]any{"payload": "abc"})
	assert.True(t, ok)
	assert.Equal(t, []byte("abc"), got)

	got, ok = streamPayload(map[string]any{"payload": []byte{1, 2}})
	assert.True(t, ok)
	assert.Equal(t, []byte{1, 2}, got)

	_, ok = streamPayload(map[string]any{"other": "x"})
	assert.False(t, ok)
	_, ok = streamPayload(map[string]any{"payload": 7})
	assert.False(t, ok)
}

func TestSlidingWindowScriptEmbedded(t *testing.T) {
	assert.Contains(t, slidingWindowLua, "ZREMRANGEBYSCORE")
	assert.Contains(t, slidingWindowLua, "PEXPIRE")
	assert.Contains(t, slidingWindowLua, "WITHSCORES")
}

func TestDecodeDecision(t *testing.T) {
	d, err := decodeDecision([]int64{1, 3, 0}, 5)
	assert.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
	assert.Zero(t, d.RetryAfter)

	d, err = decodeDecision([]int64{0, 7, 1500000}, 5)
	assert.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 1500*time.Millisecond, d.RetryAfter)

	_, err = decodeDecision([]int64{1, 1}, 5)
	assert.Error(t, err)
}

func TestOptions(t *testing.T) {
	opts, err := options(ClientConfig{Addr: "localhost:6379", PoolSize: 20, TLSEnabled: true, ClientName: "ledgerd"})
	assert.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 20, opts.PoolSize)
	assert.NotNil(t, opts.TLSConfig)
	assert.Equal(t, "ledgerd", opts.ClientName)

	opts, err = options(ClientConfig{Addr: "redis://:secret@cache:6380/2", DB: 0})
	assert.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Nil(t, opts.TLSConfig)

	opts, err = options(ClientConfig{Addr: "redis://cache:6380/2", DB: 5, Password: "override"})
	assert.NoError(t, err)
	assert.Equal(t, 5, opts.DB)
	assert.Equal(t, "override", opts.Password)

	_, err = options(ClientConfig{Addr: "http://cache"})
	assert.Error(t, err)
}

func TestRangeStart(t *testing.T) {
	assert.Equal(t, "-", rangeStart(""))
	assert.Equal(t, "-", rangeStart("0"))
	assert.Equal(t, "(1680000000000-3", rangeStart("1680000000000-3"))
}
