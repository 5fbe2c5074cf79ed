package resultstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/anddigital/diagnosis-platform/internal/diagnosis"
)

const (
	resultKeyPrefix = "diagnosis:webhook_result:"
	draftKeyPrefix  = "diagnosis:form_draft:"
)

// DefaultSession is the shared slot webhook deliveries land in when the
// provider callback carries no session correlation. Controllers poll it
// alongside their own key.
const DefaultSession = "default"

// Store keeps per-session webhook payloads and in-progress form drafts in
// Redis. Result values are raw JSON: the webhook relay is an independent
// writer with no coordination beyond last-write-wins, so entries are only
// normalized on the reading side.
type Store struct {
	redis     *redis.Client
	tracer    trace.Tracer
	resultTTL time.Duration
	draftTTL  time.Duration
}

// New creates a store. Zero TTLs fall back to the defaults the product
// shipped with: results stay fresh for five minutes, drafts for a day.
func New(redisClient *redis.Client, resultTTL, draftTTL time.Duration) *Store {
	if redisClient == nil {
		return nil
	}
	if resultTTL <= 0 {
		resultTTL = 5 * time.Minute
	}
	if draftTTL <= 0 {
		draftTTL = 24 * time.Hour
	}
	return &Store{
		redis:     redisClient,
		tracer:    otel.Tracer("diagnosis.internal.resultstore"),
		resultTTL: resultTTL,
		draftTTL:  draftTTL,
	}
}

// PutResult writes a raw webhook payload for the session. Last write wins.
func (s *Store) PutResult(ctx context.Context, sessionID string, raw []byte) error {
	if s == nil || s.redis == nil {
		return nil
	}
	if sessionID == "" {
		return errors.New("resultstore: sessionID required")
	}
	ctx, span := s.tracer.Start(ctx, "resultstore.put_result")
	defer span.End()

	if err := s.redis.Set(ctx, resultKey(sessionID), raw, s.resultTTL).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("resultstore: put result: %w", err)
	}
	return nil
}

// PeekResult reads the session's payload without removing it. A missing
// key returns (nil, nil).
func (s *Store) PeekResult(ctx context.Context, sessionID string) ([]byte, error) {
	if s == nil || s.redis == nil {
		return nil, nil
	}
	ctx, span := s.tracer.Start(ctx, "resultstore.peek_result")
	defer span.End()

	raw, err := s.redis.Get(ctx, resultKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("resultstore: peek result: %w", err)
	}
	return raw, nil
}

// ConsumeResult reads and deletes the session's payload in one step, so a
// consumed entry cannot be observed again by the next session.
func (s *Store) ConsumeResult(ctx context.Context, sessionID string) ([]byte, error) {
	if s == nil || s.redis == nil {
		return nil, nil
	}
	ctx, span := s.tracer.Start(ctx, "resultstore.consume_result")
	defer span.End()

	raw, err := s.redis.GetDel(ctx, resultKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("resultstore: consume result: %w", err)
	}
	return raw, nil
}

// ClearResult removes the session's payload, used on restart and after a
// session resolves.
func (s *Store) ClearResult(ctx context.Context, sessionID string) error {
	if s == nil || s.redis == nil {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, "resultstore.clear_result")
	defer span.End()

	if err := s.redis.Del(ctx, resultKey(sessionID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("resultstore: clear result: %w", err)
	}
	return nil
}

// SaveDraft persists in-progress form answers for crash/reload recovery.
func (s *Store) SaveDraft(ctx context.Context, sessionID string, req *diagnosis.Request) error {
	if s == nil || s.redis == nil {
		return nil
	}
	if sessionID == "" {
		return errors.New("resultstore: sessionID required")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("resultstore: marshal draft: %w", err)
	}

	ctx, span := s.tracer.Start(ctx, "resultstore.save_draft")
	defer span.End()

	if err := s.redis.Set(ctx, draftKey(sessionID), data, s.draftTTL).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("resultstore: save draft: %w", err)
	}
	return nil
}

// LoadDraft returns the saved draft, or (nil, nil) when none exists.
func (s *Store) LoadDraft(ctx context.Context, sessionID string) (*diagnosis.Request, error) {
	if s == nil || s.redis == nil {
		return nil, nil
	}
	ctx, span := s.tracer.Start(ctx, "resultstore.load_draft")
	defer span.End()

	raw, err := s.redis.Get(ctx, draftKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("resultstore: load draft: %w", err)
	}

	var req diagnosis.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("resultstore: decode draft: %w", err)
	}
	return &req, nil
}

// DeleteDraft drops the saved draft, used on restart and after resolution.
func (s *Store) DeleteDraft(ctx context.Context, sessionID string) error {
	if s == nil || s.redis == nil {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, "resultstore.delete_draft")
	defer span.End()

	if err := s.redis.Del(ctx, draftKey(sessionID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("resultstore: delete draft: %w", err)
	}
	return nil
}

func resultKey(sessionID string) string {
	return resultKeyPrefix + sessionID
}

func draftKey(sessionID string) string {
	return draftKeyPrefix + sessionID
}
