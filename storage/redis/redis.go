// Package redis provides a Redis implementation of the ledger.Store
// interface. The version-conditional period upsert is a Lua script so a stale
// flush can never overwrite a newer snapshot.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fluentvoice/usageledger/pkg/ledger"
)

// Store implements ledger.Store using Redis.
type Store struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// Config holds Redis store configuration.
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "usageledger:")
	KeyPrefix string

	// PeriodTTL is the TTL for period keys (0 = no expiration)
	PeriodTTL time.Duration

	// SessionTTL is the TTL for session audit keys (default: 30 days)
	SessionTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:  "usageledger:",
		PeriodTTL:  0, // period snapshots do not expire
		SessionTTL: 30 * 24 * time.Hour,
	}
}

// New creates a new Redis store.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "usageledger:"
	}
	if config.SessionTTL == 0 {
		config.SessionTTL = 30 * 24 * time.Hour
	}

	s := &Store{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	s.loadScripts()

	return s, nil
}

func (s *Store) loadScripts() {
	// Save a period snapshot unless the stored version is newer, and keep
	// the current-period pointer in step.
	// KEYS[1] period key, KEYS[2] current pointer key
	// ARGV[1] json doc, ARGV[2] version, ARGV[3] archived flag
	s.scripts["save_period"] = redis.NewScript(`
		local cur = redis.call('GET', KEYS[1])
		if cur then
			local rec = cjson.decode(cur)
			if tonumber(rec.version) > tonumber(ARGV[2]) then
				return 0
			end
		end
		redis.call('SET', KEYS[1], ARGV[1])
		if ARGV[3] == '1' then
			if redis.call('GET', KEYS[2]) == KEYS[1] then
				redis.call('DEL', KEYS[2])
			end
		else
			redis.call('SET', KEYS[2], KEYS[1])
		end
		return 1
	`)
}

type periodDoc struct {
	UserID       string    `json:"user_id"`
	PeriodStart  time.Time `json:"period_start"`
	PeriodEnd    time.Time `json:"period_end"`
	Plan         string    `json:"plan"`
	MinutesUsed  int       `json:"minutes_used"`
	MinutesLimit int       `json:"minutes_limit"`
	SyncedAt     time.Time `json:"synced_at"`
	Version      int64     `json:"version"`
	Archived     bool      `json:"archived"`
}

type sessionDoc struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	MinutesUsed int        `json:"minutes_used"`
	Topic       string     `json:"topic,omitempty"`
	Difficulty  string     `json:"difficulty,omitempty"`
	Mode        string     `json:"mode,omitempty"`
	EndReason   string     `json:"end_reason,omitempty"`
}

func (s *Store) periodKey(userID string, start time.Time) string {
	return s.config.KeyPrefix + "period:" + userID + ":" + start.UTC().Format("2006-01-02")
}

func (s *Store) currentKey(userID string) string {
	return s.config.KeyPrefix + "current:" + userID
}

func (s *Store) sessionKey(id string) string {
	return s.config.KeyPrefix + "session:" + id
}

// LoadCurrentPeriod implements ledger.Store.
func (s *Store) LoadCurrentPeriod(ctx context.Context, userID string) (*ledger.PeriodRecord, error) {
	key, err := s.client.Get(ctx, s.currentKey(userID)).Result()
	if err == redis.Nil {
		return nil, nil // never persisted is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve current period: %w", err)
	}

	raw, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load period: %w", err)
	}

	var doc periodDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode period: %w", err)
	}
	if doc.Archived {
		return nil, nil
	}

	return &ledger.PeriodRecord{
		UserID:       doc.UserID,
		PeriodStart:  doc.PeriodStart,
		PeriodEnd:    doc.PeriodEnd,
		Plan:         ledger.Plan(doc.Plan),
		MinutesUsed:  doc.MinutesUsed,
		MinutesLimit: doc.MinutesLimit,
		SyncedAt:     doc.SyncedAt,
		Version:      doc.Version,
		Archived:     doc.Archived,
	}, nil
}

// SavePeriod implements ledger.Store via the save_period Lua script.
func (s *Store) SavePeriod(ctx context.Context, rec *ledger.PeriodRecord) error {
	if rec == nil || rec.UserID == "" {
		return fmt.Errorf("invalid period record")
	}

	doc := periodDoc{
		UserID:       rec.UserID,
		PeriodStart:  rec.PeriodStart,
		PeriodEnd:    rec.PeriodEnd,
		Plan:         string(rec.Plan),
		MinutesUsed:  rec.MinutesUsed,
		MinutesLimit: rec.MinutesLimit,
		SyncedAt:     rec.SyncedAt,
		Version:      rec.Version,
		Archived:     rec.Archived,
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode period: %w", err)
	}

	archived := "0"
	if rec.Archived {
		archived = "1"
	}

	keys := []string{s.periodKey(rec.UserID, rec.PeriodStart), s.currentKey(rec.UserID)}
	res, err := s.scripts["save_period"].Run(ctx, s.client, keys, string(raw), rec.Version, archived).Int()
	if err != nil {
		return fmt.Errorf("failed to save period: %w", err)
	}
	if res == 0 {
		return ledger.ErrStaleWrite
	}

	if s.config.PeriodTTL > 0 {
		s.client.Expire(ctx, keys[0], s.config.PeriodTTL)
	}

	return nil
}

// CreateSession implements ledger.Store.
func (s *Store) CreateSession(ctx context.Context, rec *ledger.SessionRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("invalid session record")
	}

	doc := sessionDoc{
		ID:         rec.ID,
		UserID:     rec.UserID,
		StartedAt:  rec.StartedAt,
		Topic:      rec.Topic,
		Difficulty: rec.Difficulty,
		Mode:       rec.Mode,
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := s.client.Set(ctx, s.sessionKey(rec.ID), raw, s.config.SessionTTL).Err(); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// FinalizeSession implements ledger.Store. Unknown session ids are ignored.
// The session's actor is its only writer, so read-modify-write is safe here.
func (s *Store) FinalizeSession(ctx context.Context, sessionID string, endedAt time.Time, minutesUsed int, reason ledger.EndReason) error {
	key := s.sessionKey(sessionID)

	raw, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	var doc sessionDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("failed to decode session: %w", err)
	}

	doc.EndedAt = &endedAt
	doc.MinutesUsed = minutesUsed
	doc.EndReason = string(reason)

	updated, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.client.Set(ctx, key, updated, s.config.SessionTTL).Err(); err != nil {
		return fmt.Errorf("failed to finalize session: %w", err)
	}

	return nil
}
