package redis

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/jdziat/simple-delayed-requests/pkg/core"
)

// Compile-time interface check.
var _ core.Storage = (*Store)(nil)

const (
	defaultBatchSize = 100
	maxWatchRetries  = 16
)

var errCheckFailed = errors.New("check failed")

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithPrefix changes the key namespace. Stores with different prefixes can
// share one Redis database.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// Store implements core.Storage backed by Redis.
type Store struct {
	client goredis.UniversalClient
	logger *slog.Logger
	prefix string
	now    func() time.Time
}

// New creates a new Redis-backed store. The caller owns the client unless
// Close is called.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		logger: slog.Default(),
		prefix: DefaultPrefix,
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.UniversalClient { return s.client }

// Migrate only verifies the connection; Redis is schemaless.
func (s *Store) Migrate(ctx context.Context) error {
	return core.StorageFailure("ping", s.client.Ping(ctx).Err())
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Get returns the live entry at key, or nil.
func (s *Store) Get(ctx context.Context, key core.Key) (*core.Entry, error) {
	vals, err := s.client.HMGet(ctx, s.entryKey(string(key.Pack())), "v", "vs").Result()
	if err != nil {
		return nil, core.StorageFailure("get", err)
	}
	entry, err := decodeEntry(key, vals)
	if err != nil {
		return nil, core.StorageFailure("get", err)
	}
	return entry, nil
}

// List walks the key index one page at a time. Index members whose hash has
// expired are skipped and pruned.
func (s *Store) List(ctx context.Context, sel core.ListSelector) iter.Seq2[core.Entry, error] {
	return func(yield func(core.Entry, error) bool) {
		start, end := sel.Prefix.Range()
		batch := sel.BatchSize
		if batch <= 0 {
			batch = defaultBatchSize
		}

		lo := "[" + string(start)
		seen := 0
		for {
			members, err := s.client.ZRangeByLex(ctx, s.indexKey(), &goredis.ZRangeBy{
				Min:   lo,
				Max:   "(" + string(end),
				Count: int64(batch),
			}).Result()
			if err != nil {
				yield(core.Entry{}, core.StorageFailure("list", err))
				return
			}

			cmds := make([]*goredis.SliceCmd, len(members))
			_, err = s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
				for i, m := range members {
					cmds[i] = pipe.HMGet(ctx, s.entryKey(m), "v", "vs")
				}
				return nil
			})
			if err != nil {
				yield(core.Entry{}, core.StorageFailure("list", err))
				return
			}

			var stale []any
			for i, m := range members {
				key, err := core.UnpackKey([]byte(m))
				if err != nil {
					if !yield(core.Entry{}, err) {
						return
					}
					continue
				}
				entry, err := decodeEntry(key, cmds[i].Val())
				if err != nil {
					if !yield(core.Entry{}, core.StorageFailure("list", err)) {
						return
					}
					continue
				}
				if entry == nil {
					stale = append(stale, m)
					continue
				}
				if !yield(*entry, nil) {
					return
				}
				seen++
				if sel.Limit > 0 && seen >= sel.Limit {
					return
				}
			}
			if len(stale) > 0 {
				if err := s.client.ZRem(ctx, s.indexKey(), stale...).Err(); err != nil {
					s.logger.Warn("prune stale index members failed", "error", err)
				}
			}

			if len(members) < batch {
				return
			}
			lo = "(" + members[len(members)-1]
		}
	}
}

// Commit applies op under WATCH. Checks run against the watched keys; if
// another client touches one of them before EXEC the whole attempt is
// replayed.
func (s *Store) Commit(ctx context.Context, op *core.AtomicOperation) (core.CommitResult, error) {
	watched := s.watchedKeys(op)

	var lastErr error
	for range maxWatchRetries {
		var result core.CommitResult
		err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
			for _, check := range op.Checks {
				vs, err := s.versionOf(ctx, tx, check.Key)
				if err != nil {
					return err
				}
				if vs != check.Versionstamp {
					return errCheckFailed
				}
			}

			sums, err := s.loadSums(ctx, tx, op)
			if err != nil {
				return err
			}

			version, err := s.client.Incr(ctx, s.versionKey()).Uint64()
			if err != nil {
				return err
			}
			now := s.now()

			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				for _, m := range op.Mutations {
					s.queueMutation(ctx, pipe, m, version, now, sums)
				}
				for _, e := range op.Enqueues {
					id := uuid.New().String()
					pipe.HSet(ctx, s.messageKey(id), "payload", e.Payload, "deliveries", 0, "locked_by", "")
					pipe.ZAdd(ctx, s.queueKey(), goredis.Z{
						Score:  float64(now.Add(e.Delay).UnixMilli()),
						Member: id,
					})
				}
				return nil
			})
			if err != nil {
				return err
			}
			result = core.CommitResult{OK: true, Versionstamp: core.Versionstamp(version)}
			return nil
		}, watched...)

		switch {
		case err == nil:
			return result, nil
		case errors.Is(err, errCheckFailed):
			return core.CommitResult{}, nil
		case errors.Is(err, goredis.TxFailedErr):
			lastErr = err
			continue
		default:
			return core.CommitResult{}, core.StorageFailure("commit", err)
		}
	}
	return core.CommitResult{}, core.StorageFailure("commit", fmt.Errorf("watch retries exhausted: %w", lastErr))
}

// SweepExpired prunes index members whose hash Redis already expired.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	var removed int64
	lo := "-"
	for {
		members, err := s.client.ZRangeByLex(ctx, s.indexKey(), &goredis.ZRangeBy{
			Min:   lo,
			Max:   "+",
			Count: defaultBatchSize,
		}).Result()
		if err != nil {
			return removed, core.StorageFailure("sweep", err)
		}

		cmds := make([]*goredis.IntCmd, len(members))
		_, err = s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
			for i, m := range members {
				cmds[i] = pipe.Exists(ctx, s.entryKey(m))
			}
			return nil
		})
		if err != nil {
			return removed, core.StorageFailure("sweep", err)
		}

		var stale []any
		for i, m := range members {
			if cmds[i].Val() == 0 {
				stale = append(stale, m)
			}
		}
		if len(stale) > 0 {
			n, err := s.client.ZRem(ctx, s.indexKey(), stale...).Result()
			if err != nil {
				return removed, core.StorageFailure("sweep", err)
			}
			removed += n
		}

		if len(members) < defaultBatchSize {
			return removed, nil
		}
		lo = "(" + members[len(members)-1]
	}
}

func (s *Store) watchedKeys(op *core.AtomicOperation) []string {
	seen := map[string]bool{}
	var keys []string
	add := func(k core.Key) {
		rk := s.entryKey(string(k.Pack()))
		if !seen[rk] {
			seen[rk] = true
			keys = append(keys, rk)
		}
	}
	for _, c := range op.Checks {
		add(c.Key)
	}
	for _, m := range op.Mutations {
		if m.Type == core.MutationSum {
			add(m.Key)
		}
	}
	return keys
}

func (s *Store) versionOf(ctx context.Context, tx *goredis.Tx, key core.Key) (core.Versionstamp, error) {
	raw, err := tx.HGet(ctx, s.entryKey(string(key.Pack())), "vs").Result()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	vs, err := strconv.ParseUint(raw, 10, 64)
	return core.Versionstamp(vs), err
}

// loadSums reads the current value of every summed key, keyed by packed key.
func (s *Store) loadSums(ctx context.Context, tx *goredis.Tx, op *core.AtomicOperation) (map[string]uint64, error) {
	sums := map[string]uint64{}
	for _, m := range op.Mutations {
		if m.Type != core.MutationSum {
			continue
		}
		packed := string(m.Key.Pack())
		if _, ok := sums[packed]; ok {
			continue
		}
		raw, err := tx.HGet(ctx, s.entryKey(packed), "v").Bytes()
		if errors.Is(err, goredis.Nil) {
			sums[packed] = 0
			continue
		}
		if err != nil {
			return nil, err
		}
		n, err := core.DecodeU64(raw)
		if err != nil {
			return nil, err
		}
		sums[packed] = n
	}
	return sums, nil
}

func (s *Store) queueMutation(ctx context.Context, pipe goredis.Pipeliner, m core.Mutation, version uint64, now time.Time, sums map[string]uint64) {
	packed := string(m.Key.Pack())
	key := s.entryKey(packed)
	switch m.Type {
	case core.MutationSet:
		// DEL first so a previous TTL does not survive the overwrite.
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, "v", m.Value, "vs", version)
		if m.ExpireIn > 0 {
			pipe.PExpireAt(ctx, key, now.Add(m.ExpireIn))
		}
		pipe.ZAdd(ctx, s.indexKey(), goredis.Z{Member: packed})
	case core.MutationDelete:
		pipe.Del(ctx, key)
		pipe.ZRem(ctx, s.indexKey(), packed)
	case core.MutationSum:
		sums[packed] += m.Delta
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, "v", core.EncodeU64(sums[packed]), "vs", version)
		pipe.ZAdd(ctx, s.indexKey(), goredis.Z{Member: packed})
	}
}

func decodeEntry(key core.Key, vals []any) (*core.Entry, error) {
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return nil, nil
	}
	value, _ := vals[0].(string)
	rawVS, _ := vals[1].(string)
	vs, err := strconv.ParseUint(rawVS, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad versionstamp %q: %w", rawVS, err)
	}
	return &core.Entry{Key: key, Value: []byte(value), Versionstamp: core.Versionstamp(vs)}, nil
}
