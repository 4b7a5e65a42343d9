// Package statusstore tracks source upload status as a TTL keyed map so
// ephemeral in-flight state does not outlive the system that produced it.
package statusstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stackitcloud-oss/ragctl/engine/domain"
)

// ErrNotFound is returned when no status is on record for a qualified name.
var ErrNotFound = errors.New("statusstore: not found")

// Store is a Redis-backed TTL key/value store for upload status, matching
// admin-api-lib's key_value_store abstraction. Alongside per-entry status it
// tracks a single global `failure` flag: entries that expire before reaching
// a terminal status flip it, via a keyspace-expiry subscription, so an
// operator can notice silently-abandoned uploads without polling every key.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	db     int
	logger *slog.Logger

	cancelWatch context.CancelFunc
	pubsub      *redis.PubSub
}

// Options configure a Store.
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Prefix   string
	Logger   *slog.Logger
}

const defaultTTL = 24 * time.Hour

// New connects to Redis and returns a ready Store.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("statusstore: connect to redis: %w", err)
	}

	// Best-effort: managed Redis deployments sometimes disallow CONFIG SET,
	// in which case the failure flag simply never flips and entries still
	// expire normally.
	if err := client.ConfigSet(pingCtx, "notify-keyspace-events", "Ex").Err(); err != nil {
		opts.Logger.Warn("statusstore: could not enable keyspace expiry notifications, failure flag will not track silent expirations", "error", err)
	}

	s := &Store{client: client, ttl: opts.TTL, prefix: opts.Prefix, db: opts.DB, logger: opts.Logger}
	watchCtx, cancelWatch := context.WithCancel(context.Background())
	s.cancelWatch = cancelWatch
	s.watchExpirations(watchCtx)
	return s, nil
}

func (s *Store) key(qualifiedName string) string {
	return s.prefix + qualifiedName
}

// failureKey holds the single global boolean flag spec.md §4.1 requires.
func (s *Store) failureKey() string {
	return s.prefix + "__failure__"
}

// pendingSetKey holds the set of qualified names currently in a
// non-terminal status, so the expiry subscriber can tell a silently
// abandoned entry apart from one that simply finished and aged out.
func (s *Store) pendingSetKey() string {
	return s.prefix + "__pending__"
}

func isTerminal(status domain.Status) bool {
	return status == domain.StatusReady || status == domain.StatusError
}

// watchExpirations subscribes to Redis keyspace-expiry notifications and
// flips the global failure flag when a key that was still pending (tracked
// in pendingSetKey) expires before ever reaching a terminal status.
func (s *Store) watchExpirations(ctx context.Context) {
	channel := fmt.Sprintf("__keyevent@%d__:expired", s.db)
	s.pubsub = s.client.PSubscribe(ctx, channel)

	go func() {
		for msg := range s.pubsub.Channel() {
			name := strings.TrimPrefix(msg.Payload, s.prefix)
			if name == msg.Payload {
				continue // not one of ours
			}
			removed, err := s.client.SRem(context.Background(), s.pendingSetKey(), name).Result()
			if err != nil {
				s.logger.Warn("statusstore: failed to check pending marker on expiry", "source", name, "error", err)
				continue
			}
			if removed == 0 {
				continue // already reached a terminal status before expiring
			}
			if err := s.client.Set(context.Background(), s.failureKey(), "true", 0).Err(); err != nil {
				s.logger.Error("statusstore: failed to flip failure flag", "source", name, "error", err)
			}
		}
	}()
}

// Failure reports whether any tracked source has expired before reaching a
// terminal status since the flag was last reset.
func (s *Store) Failure(ctx context.Context) (bool, error) {
	val, err := s.client.Get(ctx, s.failureKey()).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("statusstore: get failure flag: %w", err)
	}
	return val == "true", nil
}

// ResetFailure clears the global failure flag, typically called by an
// operator once the abandoned entries it flagged have been investigated.
func (s *Store) ResetFailure(ctx context.Context) error {
	if err := s.client.Del(ctx, s.failureKey()).Err(); err != nil {
		return fmt.Errorf("statusstore: reset failure flag: %w", err)
	}
	return nil
}

// Upsert writes or overwrites the status for a qualified source name,
// resetting its TTL.
func (s *Store) Upsert(ctx context.Context, status domain.UploadStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("statusstore: marshal: %w", err)
	}
	if err := s.client.Set(ctx, s.key(status.SourceName), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("statusstore: set: %w", err)
	}

	if isTerminal(status.Status) {
		if err := s.client.SRem(ctx, s.pendingSetKey(), status.SourceName).Err(); err != nil {
			s.logger.Warn("statusstore: failed to clear pending marker", "source", status.SourceName, "error", err)
		}
	} else if err := s.client.SAdd(ctx, s.pendingSetKey(), status.SourceName).Err(); err != nil {
		s.logger.Warn("statusstore: failed to set pending marker", "source", status.SourceName, "error", err)
	}
	return nil
}

// Get returns the current status for a qualified source name.
func (s *Store) Get(ctx context.Context, qualifiedName string) (domain.UploadStatus, error) {
	raw, err := s.client.Get(ctx, s.key(qualifiedName)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.UploadStatus{}, ErrNotFound
	}
	if err != nil {
		return domain.UploadStatus{}, fmt.Errorf("statusstore: get: %w", err)
	}
	var status domain.UploadStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return domain.UploadStatus{}, fmt.Errorf("statusstore: unmarshal: %w", err)
	}
	return status, nil
}

// GetAll returns every tracked status, used by the all_documents_status
// endpoint. SCAN is used instead of KEYS so a large store does not block
// Redis during enumeration.
func (s *Store) GetAll(ctx context.Context) ([]domain.UploadStatus, error) {
	var (
		cursor  uint64
		results []domain.UploadStatus
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("statusstore: scan: %w", err)
		}
		if len(keys) > 0 {
			entryKeys := make([]string, 0, len(keys))
			for _, k := range keys {
				if k == s.failureKey() || k == s.pendingSetKey() {
					continue
				}
				entryKeys = append(entryKeys, k)
			}
			if len(entryKeys) == 0 {
				cursor = next
				if cursor == 0 {
					break
				}
				continue
			}
			vals, err := s.client.MGet(ctx, entryKeys...).Result()
			if err != nil {
				return nil, fmt.Errorf("statusstore: mget: %w", err)
			}
			for _, v := range vals {
				str, ok := v.(string)
				if !ok {
					continue
				}
				var status domain.UploadStatus
				if err := json.Unmarshal([]byte(str), &status); err != nil {
					s.logger.Warn("statusstore: skipping malformed entry", "error", err)
					continue
				}
				results = append(results, status)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return results, nil
}

// Delete removes the status entry for a qualified source name.
func (s *Store) Delete(ctx context.Context, qualifiedName string) error {
	if err := s.client.Del(ctx, s.key(qualifiedName)).Err(); err != nil {
		return fmt.Errorf("statusstore: delete: %w", err)
	}
	return nil
}

// Close stops the expiry subscription and releases the underlying Redis
// connection.
func (s *Store) Close() error {
	if s.cancelWatch != nil {
		s.cancelWatch()
	}
	if s.pubsub != nil {
		_ = s.pubsub.Close()
	}
	return s.client.Close()
}
