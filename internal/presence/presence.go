// Package presence tracks which users hold at least one live websocket
// connection. It is fed by explicit connect and disconnect signals from the
// websocket layer and is advisory only: nothing in the messaging core reads it.
package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const onlineSetKey = "presence:online"

// Tracker counts connections per user in Redis. Each user's counter carries
// a TTL refreshed by Touch so a crashed instance cannot pin users online.
type Tracker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewTracker(client *redis.Client, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Tracker{client: client, ttl: ttl}
}

func userKey(userID int64) string {
	return fmt.Sprintf("presence:user:%d", userID)
}

// Connected records one more live connection for userID.
func (t *Tracker) Connected(ctx context.Context, userID int64) error {
	pipe := t.client.TxPipeline()
	pipe.Incr(ctx, userKey(userID))
	pipe.Expire(ctx, userKey(userID), t.ttl)
	pipe.SAdd(ctx, onlineSetKey, userID)
	_, err := pipe.Exec(ctx)
	return err
}

// Touch extends the TTL of a connected user, typically on websocket pong.
func (t *Tracker) Touch(ctx context.Context, userID int64) error {
	return t.client.Expire(ctx, userKey(userID), t.ttl).Err()
}

// Disconnected drops one connection; the user goes offline at zero.
func (t *Tracker) Disconnected(ctx context.Context, userID int64) error {
	n, err := t.client.Decr(ctx, userKey(userID)).Result()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	pipe := t.client.TxPipeline()
	pipe.Del(ctx, userKey(userID))
	pipe.SRem(ctx, onlineSetKey, userID)
	_, err = pipe.Exec(ctx)
	return err
}

// Online lists users with a live connection, pruning entries whose counter
// expired.
func (t *Tracker) Online(ctx context.Context) ([]int64, error) {
	members, err := t.client.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, err
	}
	online := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		n, err := t.client.Exists(ctx, userKey(id)).Result()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			t.client.SRem(ctx, onlineSetKey, m)
			continue
		}
		online = append(online, id)
	}
	return online, nil
}
