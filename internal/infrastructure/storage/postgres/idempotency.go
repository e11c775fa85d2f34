package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/idempotency"
)

const idempotencyTable = "sys_idempotency"

// idempotencyRecord is a row of sys_idempotency.
type idempotencyRecord struct {
	Key         string             `db:"idempotency_key"`
	UserID      string             `db:"user_id"`
	Operation   string             `db:"operation"`
	RequestHash string             `db:"request_hash"`
	Status      idempotency.Status `db:"status"`
	Response    []byte             `db:"response"`
	StatusCode  int                `db:"response_status"`
	ContentType string             `db:"response_content_type"`
	CreatedAt   time.Time          `db:"created_at"`
	UpdatedAt   time.Time          `db:"updated_at"`
	ExpiresAt   time.Time          `db:"expires_at"`
}

var idempotencyColumns = Columns[idempotencyRecord]()

// IdempotencyStore keeps idempotency keys in sys_idempotency.
type IdempotencyStore struct {
	txm *TxManager
	ttl time.Duration
	now func() time.Time
}

// NewIdempotencyStore creates a store. ttl <= 0 uses idempotency.DefaultTTL.
func NewIdempotencyStore(txm *TxManager, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	return &IdempotencyStore{txm: txm, ttl: ttl, now: time.Now}
}

// Acquire implements idempotency.Store.
func (s *IdempotencyStore) Acquire(ctx context.Context, req idempotency.Request) (*idempotency.Replay, error) {
	var replay *idempotency.Replay
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		now := s.now().UTC()
		q := s.txm.GetQuerier(ctx)

		// An expired key is free again.
		sql, args, err := builder().Delete(idempotencyTable).
			Where(sq.Eq{"idempotency_key": req.Key}).
			Where(sq.Lt{"expires_at": now}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build idempotency purge: %w", err)
		}
		if _, err := q.Exec(ctx, sql, args...); err != nil {
			return mapError(fmt.Errorf("purge idempotency key: %w", err))
		}

		sql, args, err = builder().Insert(idempotencyTable).
			SetMap(map[string]any{
				"idempotency_key": req.Key,
				"user_id":         req.UserID,
				"operation":       req.Operation,
				"request_hash":    req.Hash,
				"status":          idempotency.StatusPending,
				"created_at":      now,
				"updated_at":      now,
				"expires_at":      now.Add(s.ttl),
			}).
			Suffix("ON CONFLICT (idempotency_key) DO NOTHING").
			ToSql()
		if err != nil {
			return fmt.Errorf("build idempotency insert: %w", err)
		}
		tag, err := q.Exec(ctx, sql, args...)
		if err != nil {
			return mapError(fmt.Errorf("insert idempotency key: %w", err))
		}
		if tag.RowsAffected() == 1 {
			return nil
		}

		sql, args, err = builder().Select(idempotencyColumns...).From(idempotencyTable).
			Where(sq.Eq{"idempotency_key": req.Key}).
			Suffix("FOR UPDATE").
			ToSql()
		if err != nil {
			return fmt.Errorf("build idempotency lookup: %w", err)
		}
		var rec idempotencyRecord
		if err := pgxscan.Get(ctx, q, &rec, sql, args...); err != nil {
			return mapError(fmt.Errorf("load idempotency key: %w", err))
		}

		if rec.UserID != req.UserID || rec.Operation != req.Operation || rec.RequestHash != req.Hash {
			return apperror.NewIdempotencyMismatch(req.Key).
				WithDetail("stored_operation", rec.Operation).
				WithDetail("request_operation", req.Operation)
		}

		switch {
		case rec.Status == idempotency.StatusCompleted:
			replay = &idempotency.Replay{StatusCode: rec.StatusCode, ContentType: rec.ContentType, Body: rec.Response}
			replay.Normalize()
			return nil
		case now.Sub(rec.UpdatedAt) > idempotency.StaleAfter:
			return s.touch(ctx, req.Key, now)
		default:
			return apperror.NewIdempotencyConflict(req.Key)
		}
	})
	if err != nil {
		return nil, err
	}
	return replay, nil
}

func (s *IdempotencyStore) touch(ctx context.Context, key string, now time.Time) error {
	sql, args, err := builder().Update(idempotencyTable).
		Set("updated_at", now).
		Where(sq.Eq{"idempotency_key": key, "status": idempotency.StatusPending}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build idempotency reclaim: %w", err)
	}
	if _, err := s.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return mapError(fmt.Errorf("reclaim idempotency key: %w", err))
	}
	return nil
}

// Complete implements idempotency.Store.
func (s *IdempotencyStore) Complete(ctx context.Context, key string, resp idempotency.Replay) error {
	sql, args, err := builder().Update(idempotencyTable).
		SetMap(map[string]any{
			"status":                idempotency.StatusCompleted,
			"response":              resp.Body,
			"response_status":       resp.StatusCode,
			"response_content_type": resp.ContentType,
			"updated_at":            s.now().UTC(),
		}).
		Where(sq.Eq{"idempotency_key": key}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build idempotency completion: %w", err)
	}
	if _, err := s.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return mapError(fmt.Errorf("complete idempotency key: %w", err))
	}
	return nil
}

// Release implements idempotency.Store.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	sql, args, err := builder().Delete(idempotencyTable).
		Where(sq.Eq{"idempotency_key": key, "status": idempotency.StatusPending}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build idempotency release: %w", err)
	}
	if _, err := s.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return mapError(fmt.Errorf("release idempotency key: %w", err))
	}
	return nil
}

// CleanupExpired implements idempotency.Store.
func (s *IdempotencyStore) CleanupExpired(ctx context.Context) (int64, error) {
	sql, args, err := builder().Delete(idempotencyTable).
		Where(sq.Lt{"expires_at": s.now().UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build idempotency cleanup: %w", err)
	}
	tag, err := s.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return 0, mapError(fmt.Errorf("cleanup idempotency keys: %w", err))
	}
	return tag.RowsAffected(), nil
}

var _ idempotency.Store = (*IdempotencyStore)(nil)
