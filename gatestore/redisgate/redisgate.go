// Package redisgate implements wc.EventGateStore (C6) over Redis, using
// sorted sets for the two sliding-window tables (SourceEvent,
// TriggerFailure) and string keys holding the JSON row, with PEXPIREAT
// mirroring paused_until, for the two pause tables. Grounded on the
// redis/go-redis/v9 + alicebob/miniredis/v2 idiom used for sliding-window
// state in the retrieved corpus (jordigilh-kubernaut).
package redisgate

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	wc "github.com/fluxline/workflowcore"
)

const (
	keyPrefix          = "workflowcore:gate:"
	sourceEventsKey    = keyPrefix + "source_events:%s"
	sourcePauseKey     = keyPrefix + "source_pause:%s"
	triggerFailuresKey = keyPrefix + "trigger_failures:%s"
	triggerPauseKey    = keyPrefix + "trigger_pause:%s"
	lockKeyPrefix      = keyPrefix + "lock:"

	lockTTL          = 10 * time.Second
	lockPollInterval = 25 * time.Millisecond
)

// Store is a Redis-backed EventGateStore.
type Store struct {
	rdb *redis.Client
}

// New wraps an existing *redis.Client.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) UpsertSourcePause(ctx context.Context, p wc.SourcePause) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	key := fmt.Sprintf(sourcePauseKey, p.Source)
	if err := s.rdb.Set(ctx, key, b, 0).Err(); err != nil {
		return err
	}
	return s.rdb.PExpireAt(ctx, key, p.PausedUntil).Err()
}

func (s *Store) DeleteExpiredSourcePauses(ctx context.Context, now time.Time) error {
	return s.scanDeleteExpired(ctx, sourcePauseKey, now, func(b []byte) (time.Time, error) {
		var p wc.SourcePause
		if err := json.Unmarshal(b, &p); err != nil {
			return time.Time{}, err
		}
		return p.PausedUntil, nil
	})
}

func (s *Store) GetSourcePause(ctx context.Context, source string) (*wc.SourcePause, error) {
	b, err := s.rdb.Get(ctx, fmt.Sprintf(sourcePauseKey, source)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p wc.SourcePause
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) AppendSourceEvent(ctx context.Context, source string, at time.Time) error {
	key := fmt.Sprintf(sourceEventsKey, source)
	// A unique suffix keeps events at the same instant as distinct members.
	member := strconv.FormatInt(at.UnixNano(), 10) + ":" + uuid.NewString()
	return s.rdb.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixNano()), Member: member}).Err()
}

func (s *Store) PurgeSourceEventsBefore(ctx context.Context, source string, before time.Time) error {
	key := fmt.Sprintf(sourceEventsKey, source)
	return s.rdb.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(before.UnixNano(), 10)).Err()
}

func (s *Store) CountSourceEvents(ctx context.Context, source string) (int, error) {
	key := fmt.Sprintf(sourceEventsKey, source)
	n, err := s.rdb.ZCard(ctx, key).Result()
	return int(n), err
}

func (s *Store) AppendTriggerFailure(ctx context.Context, f wc.TriggerFailure) error {
	key := fmt.Sprintf(triggerFailuresKey, f.TriggerID)
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return s.rdb.ZAdd(ctx, key, redis.Z{Score: float64(f.FailureTime.UnixNano()), Member: b}).Err()
}

func (s *Store) PurgeTriggerFailuresBefore(ctx context.Context, triggerID string, before time.Time) error {
	key := fmt.Sprintf(triggerFailuresKey, triggerID)
	return s.rdb.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(before.UnixNano(), 10)).Err()
}

func (s *Store) CountTriggerFailures(ctx context.Context, triggerID string) (int, error) {
	key := fmt.Sprintf(triggerFailuresKey, triggerID)
	n, err := s.rdb.ZCard(ctx, key).Result()
	return int(n), err
}

func (s *Store) ClearTriggerFailures(ctx context.Context, triggerID string) error {
	return s.rdb.Del(ctx, fmt.Sprintf(triggerFailuresKey, triggerID)).Err()
}

func (s *Store) UpsertTriggerPause(ctx context.Context, p wc.TriggerPause) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	key := fmt.Sprintf(triggerPauseKey, p.TriggerID)
	if err := s.rdb.Set(ctx, key, b, 0).Err(); err != nil {
		return err
	}
	return s.rdb.PExpireAt(ctx, key, p.PausedUntil).Err()
}

func (s *Store) DeleteTriggerPause(ctx context.Context, triggerID string) error {
	return s.rdb.Del(ctx, fmt.Sprintf(triggerPauseKey, triggerID)).Err()
}

func (s *Store) GetTriggerPause(ctx context.Context, triggerID string) (*wc.TriggerPause, error) {
	b, err := s.rdb.Get(ctx, fmt.Sprintf(triggerPauseKey, triggerID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p wc.TriggerPause
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListActiveSourcePauses(ctx context.Context, now time.Time) ([]wc.SourcePause, error) {
	var out []wc.SourcePause
	err := s.scanPrefix(ctx, keyPrefix+"source_pause:", 500, func(b []byte) error {
		var p wc.SourcePause
		if err := json.Unmarshal(b, &p); err != nil {
			return err
		}
		if p.PausedUntil.After(now) {
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

func (s *Store) ListActiveTriggerPauses(ctx context.Context, now time.Time) ([]wc.TriggerPause, error) {
	var out []wc.TriggerPause
	err := s.scanPrefix(ctx, keyPrefix+"trigger_pause:", 500, func(b []byte) error {
		var p wc.TriggerPause
		if err := json.Unmarshal(b, &p); err != nil {
			return err
		}
		if p.PausedUntil.After(now) {
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

func (s *Store) ListTriggerFailureHistory(ctx context.Context, triggerIDs []string, from, to time.Time, limit int) ([]wc.TriggerFailure, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	var out []wc.TriggerFailure
	for _, id := range triggerIDs {
		if len(out) >= limit {
			break
		}
		key := fmt.Sprintf(triggerFailuresKey, id)
		members, err := s.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
			Min: strconv.FormatInt(from.UnixNano(), 10),
			Max: strconv.FormatInt(to.UnixNano(), 10),
		}).Result()
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			var f wc.TriggerFailure
			if err := json.Unmarshal([]byte(m), &f); err != nil {
				continue
			}
			out = append(out, f)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// WithLock acquires a Redis-backed mutual-exclusion lock scoped to key
// (SETNX with a TTL and a random owner token), runs fn, then releases it.
// Acquisition polls until it succeeds or ctx is done. Release is a
// WATCH/MULTI/EXEC compare-and-delete against the owner token so a caller
// can never delete a lock acquired by someone else after its own lock
// expired.
func (s *Store) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lockKey := lockKeyPrefix + key
	token := uuid.NewString()
	for {
		ok, err := s.rdb.SetNX(ctx, lockKey, token, lockTTL).Result()
		if err != nil {
			return err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
	defer s.releaseLock(ctx, lockKey, token)
	return fn(ctx)
}

func (s *Store) releaseLock(ctx context.Context, lockKey, token string) error {
	return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, lockKey).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		if cur != token {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, lockKey)
			return nil
		})
		return err
	}, lockKey)
}

// TruncateAll is test-only: it deletes every key under this store's prefix.
func (s *Store) TruncateAll(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

func (s *Store) scanPrefix(ctx context.Context, prefix string, limit int, fn func([]byte) error) error {
	var cursor uint64
	seen := 0
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return err
		}
		for _, k := range keys {
			if seen >= limit {
				return nil
			}
			b, err := s.rdb.Get(ctx, k).Bytes()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return err
			}
			if err := fn(b); err != nil {
				return err
			}
			seen++
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *Store) scanDeleteExpired(ctx context.Context, keyTemplate string, now time.Time, extract func([]byte) (time.Time, error)) error {
	prefix := keyTemplate[:len(keyTemplate)-2] // strip "%s"
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return err
		}
		for _, k := range keys {
			b, err := s.rdb.Get(ctx, k).Bytes()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return err
			}
			until, err := extract(b)
			if err != nil {
				continue
			}
			if !until.After(now) {
				if err := s.rdb.Del(ctx, k).Err(); err != nil {
					return err
				}
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

var _ wc.EventGateStore = (*Store)(nil)
