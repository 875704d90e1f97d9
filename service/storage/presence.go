package storage

import (
	"context"
	"strings"
	"time"

	"PSocial/service/presence"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// presence key: im:presence:<user>
// Value: node id，TTL 控制在线有效期，节点崩溃后自然过期
const presencePrefix = "im:presence:"

func presenceKey(user string) string { return presencePrefix + user }

// 只删自己节点写的 key，避免把在别的节点重连的用户删掉
var luaOfflineIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// 续期：key 不存在或属于本节点时才写
var luaRefreshIfOwner = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v == false or v == ARGV[1] then
  redis.call("SET", KEYS[1], ARGV[1], "EX", ARGV[2])
  return 1
end
return 0
`)

// RedisPresence mirrors the local registry into Redis so other nodes and
// the reconciler can see who is online where.
type RedisPresence struct {
	rdb    redis.Cmdable
	nodeID string
	ttl    time.Duration
}

func NewRedisPresence(rdb redis.Cmdable, nodeID string, ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisPresence{rdb: rdb, nodeID: nodeID, ttl: ttl}
}

func (p *RedisPresence) Name() string { return "redis" }

// UpdateStatus implements presence.StatusWriter.
func (p *RedisPresence) UpdateStatus(ctx context.Context, user string, status presence.Status) error {
	switch status {
	case presence.StatusOnline:
		return errors.Wrap(p.rdb.Set(ctx, presenceKey(user), p.nodeID, p.ttl).Err(), "presence online")
	case presence.StatusOffline:
		err := luaOfflineIfOwner.Run(ctx, p.rdb, []string{presenceKey(user)}, p.nodeID).Err()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return errors.Wrap(err, "presence offline")
	}
	return errors.Errorf("unknown status %q", status)
}

// Lookup reports which node holds the user, if any.
func (p *RedisPresence) Lookup(ctx context.Context, user string) (nodeID string, online bool, err error) {
	val, err := p.rdb.Get(ctx, presenceKey(user)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Refresh renews the TTL for users held by this node.
func (p *RedisPresence) Refresh(ctx context.Context, users []string) error {
	if len(users) == 0 {
		return nil
	}
	secs := int64(p.ttl / time.Second)
	if secs <= 0 {
		secs = 1
	}
	// 先确保脚本已加载，pipeline 里用 EVALSHA
	if err := luaRefreshIfOwner.Load(ctx, p.rdb).Err(); err != nil {
		return errors.Wrap(err, "load refresh script")
	}
	pipe := p.rdb.Pipeline()
	for _, u := range users {
		luaRefreshIfOwner.EvalSha(ctx, pipe, []string{presenceKey(u)}, p.nodeID, secs)
	}
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return errors.Wrap(err, "refresh presence")
	}
	return nil
}

// LiveUsers scans every presence key across all nodes.
func (p *RedisPresence) LiveUsers(ctx context.Context) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	for {
		keys, next, err := p.rdb.Scan(ctx, cursor, presencePrefix+"*", 500).Result()
		if err != nil {
			return nil, errors.Wrap(err, "scan presence")
		}
		for _, k := range keys {
			out = append(out, strings.TrimPrefix(k, presencePrefix))
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}
