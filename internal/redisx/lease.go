package redisx

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-fulfillment-orders/internal/fulfillment"
)

// Deletes the lease only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lease is a SET NX lock with a TTL, so a crashed holder frees it on expiry.
type Lease struct {
	RDB *redis.Client
	Key string
	TTL time.Duration
}

var _ fulfillment.Lease = (*Lease)(nil)

func NewSweepLease(rdb *redis.Client) *Lease {
	return &Lease{RDB: rdb, Key: KeySweepLease, TTL: TTLSweepLease}
}

func (l *Lease) Acquire(ctx context.Context) (func(context.Context) error, bool, error) {
	token := uuid.NewString()
	ok, err := l.RDB.SetNX(ctx, l.Key, token, l.TTL).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	release := func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.RDB, []string{l.Key}, token).Err()
	}
	return release, true, nil
}
