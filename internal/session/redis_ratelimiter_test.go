package session

import (
	"net"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestDistributedRateLimiterKeyIsPerIP(t *testing.T) {
	r := NewDistributedRateLimiter(&redis.Client{}, 10, 60)
	assert.Equal(t, "ddalab:ratelimit:1.2.3.4", r.key(net.ParseIP("1.2.3.4")))
	assert.NotEqual(t, r.key(net.ParseIP("1.2.3.4")), r.key(net.ParseIP("5.6.7.8")))
}
