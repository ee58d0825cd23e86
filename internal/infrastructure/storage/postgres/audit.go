package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	appctx "portalid/internal/core/context"
	"portalid/internal/core/sequence"
)

const auditTable = "sys_allocation_audit"

// defaultCompressThreshold keeps per-request metadata (trace and user IDs,
// a few hundred bytes) inline. Compressed rows remain readable by History.
const defaultCompressThreshold = 4 * 1024

// CompressionAlgo specifies the compression algorithm used.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// AuditEntry is one issued ID.
type AuditEntry struct {
	ID                 uuid.UUID       `db:"id" json:"id"`
	Sequence           string          `db:"sequence_name" json:"sequence"`
	Prefix             string          `db:"prefix" json:"prefix"`
	Year               string          `db:"year" json:"year"`
	Number             int64           `db:"number" json:"number"`
	AllocatedID        string          `db:"allocated_id" json:"allocatedId"`
	UserID             string          `db:"user_id" json:"userId,omitempty"`
	Metadata           json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	MetadataCompressed []byte          `db:"metadata_compressed" json:"-"`
	CompressionAlgo    CompressionAlgo `db:"compression_algo" json:"-"`
	CreatedAt          time.Time       `db:"created_at" json:"createdAt"`
}

// AuditService appends every allocation to sys_allocation_audit.
// It runs after the counter commit, so a failed write leaves a gap in the
// audit trail but never in the counter.
type AuditService struct {
	pool              *Pool
	builder           squirrel.StatementBuilderType
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
	now               func() time.Time
}

var _ sequence.Recorder = (*AuditService)(nil)

// NewAuditService creates a new audit service.
func NewAuditService(pool *Pool) (*AuditService, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &AuditService{
		pool:              pool,
		builder:           squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: defaultCompressThreshold,
		now:               time.Now,
	}, nil
}

// Record implements sequence.Recorder.
func (s *AuditService) Record(ctx context.Context, a sequence.Allocation) error {
	entry := AuditEntry{
		ID:          uuid.New(),
		Sequence:    a.Sequence,
		Prefix:      a.Prefix,
		Year:        a.Epoch.String(),
		Number:      a.Number,
		AllocatedID: a.ID,
		CreatedAt:   s.now().UTC(),
	}
	if user := appctx.GetUser(ctx); user != nil {
		entry.UserID = user.UserID
	}

	meta, err := json.Marshal(requestMetadata(ctx))
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	s.pack(&entry, meta)

	query, args, err := s.builder.Insert(auditTable).
		Columns("id", "sequence_name", "prefix", "year", "number", "allocated_id",
			"user_id", "metadata", "metadata_compressed", "compression_algo", "created_at").
		Values(entry.ID, entry.Sequence, entry.Prefix, entry.Year, entry.Number, entry.AllocatedID,
			entry.UserID, entry.Metadata, entry.MetadataCompressed, entry.CompressionAlgo, entry.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// History returns the latest allocations of a sequence, newest first.
func (s *AuditService) History(ctx context.Context, name string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query, args, err := s.builder.Select("id", "sequence_name", "prefix", "year", "number", "allocated_id",
		"user_id", "metadata", "metadata_compressed", "compression_algo", "created_at").
		From(auditTable).
		Where(squirrel.Eq{"sequence_name": name}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var entries []AuditEntry
	if err := pgxscan.Select(ctx, s.pool, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	for i := range entries {
		if err := s.unpack(&entries[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// pack stores meta inline, or zstd-compressed above the threshold.
func (s *AuditService) pack(entry *AuditEntry, meta []byte) {
	entry.CompressionAlgo = CompressionNone
	if len(meta) > s.compressThreshold {
		entry.MetadataCompressed = s.encoder.EncodeAll(meta, nil)
		entry.CompressionAlgo = CompressionZstd
		return
	}
	entry.Metadata = meta
}

func (s *AuditService) unpack(entry *AuditEntry) error {
	if entry.CompressionAlgo != CompressionZstd || len(entry.MetadataCompressed) == 0 {
		return nil
	}
	decompressed, err := s.decoder.DecodeAll(entry.MetadataCompressed, nil)
	if err != nil {
		return fmt.Errorf("decompress metadata: %w", err)
	}
	entry.Metadata = decompressed
	entry.MetadataCompressed = nil
	return nil
}

// requestMetadata collects the request identifiers available in ctx.
func requestMetadata(ctx context.Context) map[string]any {
	meta := map[string]any{}
	if tc := appctx.GetTrace(ctx); tc != nil {
		meta["trace_id"] = tc.TraceID
		meta["request_id"] = tc.RequestID
	}
	if user := appctx.GetUser(ctx); user != nil {
		meta["username"] = user.Username
		meta["guest"] = user.Guest
		if user.SessionID != "" {
			meta["session_id"] = user.SessionID
		}
	}
	return meta
}
