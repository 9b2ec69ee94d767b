package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/couchcryptid/road-hazard-service/internal/domain"
)

const (
	sessionPrefix = keyPrefix + "session:"
	scanBatch     = 100
)

// SessionStore keeps one JSON document per sender. Every save refreshes the
// key's expiry to the retention period.
type SessionStore struct {
	client    goredis.UniversalClient
	retention time.Duration
	logger    *slog.Logger
}

func NewSessionStore(client goredis.UniversalClient, retention time.Duration, logger *slog.Logger) *SessionStore {
	return &SessionStore{client: client, retention: retention, logger: logger}
}

func sessionKey(senderID string) string {
	return sessionPrefix + senderID
}

// Load returns the sender's session, or a fresh one on first contact.
func (s *SessionStore) Load(ctx context.Context, senderID string) (domain.ConversationSession, error) {
	data, err := s.client.Get(ctx, sessionKey(senderID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.NewSession(senderID), nil
	}
	if err != nil {
		return domain.ConversationSession{}, domain.StorageError("load session", err)
	}
	return decodeSession(data)
}

func (s *SessionStore) Save(ctx context.Context, sess domain.ConversationSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(sess.SenderID), data, s.retention).Err(); err != nil {
		return domain.StorageError("save session", err)
	}
	return nil
}

// AbandonIdle clears drafts of sessions with no activity since cutoff. Each
// session is rewritten in a WATCH transaction so a message arriving during
// the sweep wins; that session is simply revisited on the next run.
func (s *SessionStore) AbandonIdle(ctx context.Context, cutoff time.Time) (int, error) {
	n := 0
	iter := s.client.Scan(ctx, 0, sessionPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		abandoned, err := s.abandonKey(ctx, iter.Val(), cutoff)
		if errors.Is(err, goredis.TxFailedErr) {
			s.logger.Debug("session changed during sweep", "key", iter.Val())
			continue
		}
		if err != nil {
			return n, err
		}
		if abandoned {
			n++
		}
	}
	if err := iter.Err(); err != nil {
		return n, domain.StorageError("scan sessions", err)
	}
	return n, nil
}

func (s *SessionStore) abandonKey(ctx context.Context, key string, cutoff time.Time) (bool, error) {
	abandoned := false
	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		if err != nil {
			return domain.StorageError("load session", err)
		}
		sess, err := decodeSession(data)
		if err != nil {
			return err
		}
		if !sess.IdleSince(cutoff) || !sess.Abandon() {
			return nil
		}
		updated, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.SetArgs(ctx, key, updated, goredis.SetArgs{KeepTTL: true})
			return nil
		})
		if err != nil {
			return err
		}
		abandoned = true
		return nil
	}, key)
	return abandoned, err
}

// CheckReadiness pings the server.
func (s *SessionStore) CheckReadiness(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func decodeSession(data []byte) (domain.ConversationSession, error) {
	var sess domain.ConversationSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return domain.ConversationSession{}, domain.StorageError("decode session", err)
	}
	return sess, nil
}
