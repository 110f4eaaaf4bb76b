// Package store persists token bundles and the user latest-state index in
// Redis. Token-bearing records are written through the codec; the index
// carries no credential material and stays plain. TTL is the sole cleanup
// mechanism and is reset on every write so a mutation extends the exposure
// window rather than shortening it implicitly.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/huddleapps/relay-auth/internal/crypto"
	"github.com/huddleapps/relay-auth/internal/domain"
)

// DefaultTTL bounds credential exposure to one hour unless configured
// otherwise.
const DefaultTTL = time.Hour

const (
	tokenKeyPrefix  = "relay:tokens:"
	latestStateFmt  = "relay:user:%s:latest-state"
	healthKeyPrefix = "relay:health:"
	healthTTL       = 10 * time.Second
)

// TokenStore is the cache layer for {state -> token bundle} and
// {userId -> latest state}. Construct once and inject.
type TokenStore struct {
	client redis.UniversalClient
	codec  *crypto.Codec
	node   *snowflake.Node
	ttl    time.Duration
	logger *zap.Logger
}

// NewTokenStore constructs a store. A zero ttl falls back to DefaultTTL.
func NewTokenStore(client redis.UniversalClient, codec *crypto.Codec, node *snowflake.Node, ttl time.Duration, logger *zap.Logger) *TokenStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.L()
	}
	return &TokenStore{client: client, codec: codec, node: node, ttl: ttl, logger: logger}
}

func tokenKey(state string) string {
	return tokenKeyPrefix + state
}

func latestStateKey(userID string) string {
	return fmt.Sprintf(latestStateFmt, userID)
}

// Put validates, encrypts, and writes a bundle under the state with TTL.
func (s *TokenStore) Put(ctx context.Context, state string, bundle domain.TokenBundle) error {
	if strings.TrimSpace(state) == "" {
		return fmt.Errorf("%w: state is required", domain.ErrInvalidInput)
	}
	if err := bundle.Validate(); err != nil {
		return fmt.Errorf("%w: incomplete token bundle", domain.ErrInvalidInput)
	}

	payload, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("marshal bundle: %w", err)
	}
	sealed, err := s.codec.Encrypt(string(payload))
	if err != nil {
		return fmt.Errorf("encrypt bundle: %w", err)
	}
	if err := s.client.Set(ctx, tokenKey(state), sealed, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: persist bundle: %v", domain.ErrExternalService, err)
	}
	return nil
}

// Get reads and decrypts the bundle for a state. Legacy plaintext records
// are accepted and immediately rewritten in encrypted form before the value
// is returned, making the store self-healing across the format migration.
func (s *TokenStore) Get(ctx context.Context, state string) (domain.TokenBundle, error) {
	raw, err := s.readRaw(ctx, tokenKey(state))
	if err != nil {
		return domain.TokenBundle{}, err
	}

	plaintext, migrated, err := s.resolvePlaintext(raw)
	if err != nil {
		return domain.TokenBundle{}, err
	}

	var bundle domain.TokenBundle
	if err := json.Unmarshal([]byte(plaintext), &bundle); err != nil {
		return domain.TokenBundle{}, fmt.Errorf("%w: bundle is not valid JSON", domain.ErrDataCorrupted)
	}

	if migrated {
		if err := s.rewriteEncrypted(ctx, tokenKey(state), plaintext); err != nil {
			// The caller still gets a usable bundle; the next read
			// retries the migration.
			s.logger.Warn("legacy record migration failed",
				zap.String("state", state), zap.Error(err))
		} else {
			s.logger.Info("migrated legacy plaintext record", zap.String("state", state))
		}
	}

	return bundle, nil
}

// Update merges partial fields into the stored record and rewrites it
// encrypted, resetting the TTL.
func (s *TokenStore) Update(ctx context.Context, state string, updates map[string]any) error {
	if len(updates) == 0 {
		return fmt.Errorf("%w: no fields to update", domain.ErrInvalidInput)
	}
	return s.mutate(ctx, state, func(fields map[string]any) {
		for k, v := range updates {
			fields[k] = v
		}
	})
}

// ClearAccessToken removes only the access token, preserving the refresh
// token and expiry so a logged-out user can still silently refresh.
func (s *TokenStore) ClearAccessToken(ctx context.Context, state string) error {
	return s.mutate(ctx, state, func(fields map[string]any) {
		delete(fields, "accessToken")
	})
}

// Delete removes the bundle unconditionally. Absent keys are not an error.
func (s *TokenStore) Delete(ctx context.Context, state string) error {
	if err := s.client.Del(ctx, tokenKey(state)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: delete bundle: %v", domain.ErrExternalService, err)
	}
	return nil
}

// PutLatestState records the most recent state for a user. Plain write:
// the indirection index carries no credential material.
func (s *TokenStore) PutLatestState(ctx context.Context, userID, state string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(state) == "" {
		return fmt.Errorf("%w: user id and state are required", domain.ErrInvalidInput)
	}
	if err := s.client.Set(ctx, latestStateKey(userID), state, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: persist latest state: %v", domain.ErrExternalService, err)
	}
	return nil
}

// GetLatestState resolves the most recent state recorded for a user.
func (s *TokenStore) GetLatestState(ctx context.Context, userID string) (string, error) {
	return s.readRaw(ctx, latestStateKey(userID))
}

// HealthCheck round-trips a sentinel key. Failures report false rather than
// propagating; the snowflake suffix keeps concurrent probes off each other's
// sentinel.
func (s *TokenStore) HealthCheck(ctx context.Context) bool {
	key := healthKeyPrefix + s.node.Generate().String()
	if err := s.client.Set(ctx, key, "ok", healthTTL).Err(); err != nil {
		s.logger.Warn("health check write failed", zap.Error(err))
		return false
	}
	value, err := s.client.Get(ctx, key).Result()
	if err != nil || value != "ok" {
		s.logger.Warn("health check read failed", zap.Error(err))
		return false
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.logger.Warn("health check cleanup failed", zap.Error(err))
		return false
	}
	return true
}

func (s *TokenStore) readRaw(ctx context.Context, key string) (string, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("%w: read %s: %v", domain.ErrExternalService, key, err)
	}
	return raw, nil
}

// resolvePlaintext turns a raw cache value into bundle JSON. The second
// return reports whether the value was a legacy plaintext record that still
// needs re-encryption.
func (s *TokenStore) resolvePlaintext(raw string) (string, bool, error) {
	rec := crypto.ParseRecord(raw)
	if rec.Kind == crypto.RecordEncrypted {
		plaintext, err := s.codec.Open(rec)
		if err == nil {
			return plaintext, false, nil
		}
		// Authenticated decryption failed on an encrypted-shaped value.
		// Fall through to the legacy parse on the raw string before
		// declaring corruption.
	}
	if json.Valid([]byte(raw)) {
		return raw, true, nil
	}
	return "", false, domain.ErrDataCorrupted
}

func (s *TokenStore) rewriteEncrypted(ctx context.Context, key, plaintext string) error {
	sealed, err := s.codec.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("re-encrypt record: %w", err)
	}
	if err := s.client.Set(ctx, key, sealed, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: rewrite record: %v", domain.ErrExternalService, err)
	}
	return nil
}

func (s *TokenStore) mutate(ctx context.Context, state string, apply func(map[string]any)) error {
	raw, err := s.readRaw(ctx, tokenKey(state))
	if err != nil {
		return err
	}
	plaintext, _, err := s.resolvePlaintext(raw)
	if err != nil {
		return err
	}

	fields := make(map[string]any)
	if err := json.Unmarshal([]byte(plaintext), &fields); err != nil {
		return fmt.Errorf("%w: record is not valid JSON", domain.ErrDataCorrupted)
	}
	apply(fields)

	merged, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return s.rewriteEncrypted(ctx, tokenKey(state), string(merged))
}
