package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/klauspost/compress/zstd"

	appctx "lotledger/internal/core/context"
	"lotledger/internal/core/id"
	"lotledger/internal/domain/batches"
)

var _ batches.Auditor = (*AuditService)(nil)

// CompressionAlgo names how AuditEntry.Changes is stored.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// DefaultCompressThreshold is the change payload size above which entries are zstd compressed.
const DefaultCompressThreshold = 10 * 1024

// AuditEntry is one sys_audit row.
type AuditEntry struct {
	ID                id.ID           `db:"id"`
	EntityType        string          `db:"entity_type"`
	EntityID          id.ID           `db:"entity_id"`
	Action            string          `db:"action"`
	UserID            string          `db:"user_id"`
	Changes           json.RawMessage `db:"changes"`
	ChangesCompressed []byte          `db:"changes_compressed"`
	CompressionAlgo   CompressionAlgo `db:"compression_algo"`
	CreatedAt         time.Time       `db:"created_at"`
}

var auditColumns = Columns[AuditEntry]()

// AuditService writes batch lifecycle events to sys_audit inside the
// caller's transaction.
type AuditService struct {
	txm               *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
	now               func() time.Time
}

// NewAuditService creates an audit service.
func NewAuditService(txm *TxManager) (*AuditService, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &AuditService{
		txm:               txm,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: DefaultCompressThreshold,
		now:               time.Now,
	}, nil
}

// Close releases the zstd decoder.
func (s *AuditService) Close() {
	s.decoder.Close()
}

// LogChange implements batches.Auditor.
func (s *AuditService) LogChange(ctx context.Context, entityType string, entityID id.ID, action string, changes map[string]any) error {
	payload, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("marshal changes: %w", err)
	}

	entry := s.encode(AuditEntry{
		ID:         id.New(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		UserID:     appctx.GetUserID(ctx),
		Changes:    payload,
		CreatedAt:  s.now().UTC(),
	})

	sql, args, err := builder().Insert("sys_audit").SetMap(ToMap(entry)).ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert: %w", err)
	}
	if _, err := s.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return mapError(fmt.Errorf("insert audit entry: %w", err))
	}
	return nil
}

// encode moves large payloads into the compressed column.
func (s *AuditService) encode(e AuditEntry) AuditEntry {
	e.CompressionAlgo = CompressionNone
	if len(e.Changes) > s.compressThreshold {
		e.ChangesCompressed = s.encoder.EncodeAll(e.Changes, nil)
		e.Changes = nil
		e.CompressionAlgo = CompressionZstd
	}
	return e
}

func (s *AuditService) decode(e *AuditEntry) error {
	if e.CompressionAlgo != CompressionZstd || len(e.ChangesCompressed) == 0 {
		return nil
	}
	raw, err := s.decoder.DecodeAll(e.ChangesCompressed, nil)
	if err != nil {
		return fmt.Errorf("decompress changes: %w", err)
	}
	e.Changes = raw
	e.ChangesCompressed = nil
	return nil
}

// EntityHistory returns the newest limit entries of an entity, decompressed.
func (s *AuditService) EntityHistory(ctx context.Context, entityType string, entityID id.ID, limit int) ([]AuditEntry, error) {
	sql, args, err := builder().
		Select(auditColumns...).
		From("sys_audit").
		Where(sq.Eq{"entity_type": entityType, "entity_id": entityID}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build history query: %w", err)
	}

	var entries []AuditEntry
	if err := pgxscan.Select(ctx, s.txm.GetQuerier(ctx), &entries, sql, args...); err != nil {
		return nil, mapError(fmt.Errorf("query history: %w", err))
	}
	for i := range entries {
		if err := s.decode(&entries[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}
