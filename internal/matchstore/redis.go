package matchstore

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/pawnline-match-server/internal/match"
)

// Redis stores each session as a JSON blob. Deadlines live in a sorted set so the
// sweeper can find sessions that went idle without scanning keys.
type Redis struct {
	rdb *redis.Client
	o   options
}

var _ Store = (*Redis)(nil)

// Open dials REDIS_URL and verifies the connection.
func Open(ctx context.Context, redisURL string, opts ...Option) (*Redis, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for match store")
	}
	ro, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(ro)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedis(rdb, opts...), nil
}

func NewRedis(rdb *redis.Client, opts ...Option) *Redis {
	return &Redis{rdb: rdb, o: buildOptions(opts)}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}

func sessionKey(id string) string  { return "match:session:" + strings.TrimSpace(id) }
func userIdxKey(uid string) string { return "match:index:user:" + strings.TrimSpace(uid) }

const deadlinesKey = "match:deadlines"

func (r *Redis) keyTTL() time.Duration { return r.o.ttl + keyGrace }

func (r *Redis) Create(ctx context.Context, s *match.Session) error {
	if s == nil || strings.TrimSpace(s.ID) == "" {
		return match.ErrInvalidRequest
	}
	s.Version = 1
	s.ExpiresAt = r.o.now().Add(r.o.ttl)
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ok, err := r.rdb.SetNX(ctx, sessionKey(s.ID), raw, r.keyTTL()).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrExists
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, deadlinesKey, redis.Z{Score: deadlineScore(s.ExpiresAt), Member: s.ID})
		for _, p := range s.Participants {
			// 유저 인덱스 TTL은 세션 키와 동일하게 유지
			pipe.Set(ctx, userIdxKey(p.ID), s.ID, r.keyTTL())
		}
		return nil
	})
	return err
}

func (r *Redis) Load(ctx context.Context, id string) (*match.Session, error) {
	raw, err := r.rdb.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, r.missing(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	var s match.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, nil
}

// missing tells an evicted session (deadline still indexed) from one that never existed.
func (r *Redis) missing(ctx context.Context, id string) error {
	_, err := r.rdb.ZScore(ctx, deadlinesKey, id).Result()
	if errors.Is(err, redis.Nil) {
		return match.ErrSessionNotFound
	}
	if err != nil {
		return err
	}
	return match.ErrSessionExpired
}

func (r *Redis) Update(ctx context.Context, id string, fn func(*match.Session) error) (*match.Session, error) {
	return withRetry(ctx, r.o, id, func() (*match.Session, error) {
		return r.updateOnce(ctx, id, fn)
	})
}

// updateOnce is one optimistic round: WATCH the key, mutate a decoded copy, write it in MULTI.
func (r *Redis) updateOnce(ctx context.Context, id string, fn func(*match.Session) error) (*match.Session, error) {
	key := sessionKey(id)
	var out *match.Session
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return r.missing(ctx, id)
		}
		if err != nil {
			return err
		}
		var cur match.Session
		if err := json.Unmarshal(raw, &cur); err != nil {
			return fmt.Errorf("decode session %s: %w", id, err)
		}
		base := cur.Version
		if err := fn(&cur); err != nil {
			return err
		}
		cur.Version = base + 1
		cur.ExpiresAt = r.o.now().Add(r.o.ttl)
		next, err := json.Marshal(&cur)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, r.keyTTL())
			pipe.ZAdd(ctx, deadlinesKey, redis.Z{Score: deadlineScore(cur.ExpiresAt), Member: id})
			return nil
		})
		if err != nil {
			return err
		}
		out = &cur
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete drops the session and its indexes. User index entries pointing at another
// match are left alone.
func (r *Redis) Delete(ctx context.Context, s *match.Session) error {
	if s == nil {
		return nil
	}
	for _, p := range s.Participants {
		cur, err := r.rdb.Get(ctx, userIdxKey(p.ID)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur == s.ID {
			if err := r.rdb.Del(ctx, userIdxKey(p.ID)).Err(); err != nil {
				return err
			}
		}
	}
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(s.ID))
		pipe.ZRem(ctx, deadlinesKey, s.ID)
		return nil
	})
	if err == nil {
		r.o.logger.Debug("store_delete", zap.String("match_id", s.ID))
	}
	return err
}

// ActiveFor returns the match id the user is seated in, or "" when none.
func (r *Redis) ActiveFor(ctx context.Context, userID string) (string, error) {
	id, err := r.rdb.Get(ctx, userIdxKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return id, err
}

func (r *Redis) Expired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.rdb.ZRangeByScore(ctx, deadlinesKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatFloat(deadlineScore(now), 'f', 0, 64),
		Count: int64(limit),
	}).Result()
}

func deadlineScore(t time.Time) float64 { return float64(t.UnixMilli()) }

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	opts := &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}
	if u.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: u.Hostname()}
	}
	return opts, nil
}
