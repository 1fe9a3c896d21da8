package resultcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"encore.dev/storage/sqldb"
)

// AuditRecord is one invalidation in the audit trail.
type AuditRecord struct {
	ID          int64     `json:"id"`
	Scope       string    `json:"scope"`     // "key", "namespace", "subject"
	Namespace   string    `json:"namespace"` // empty for subject scope
	Keys        []string  `json:"keys,omitempty"`
	Subject     string    `json:"subject,omitempty"`
	Removed     int       `json:"removed"`
	TriggeredBy string    `json:"triggered_by"` // "api", "warming", "admin", ...
	Timestamp   time.Time `json:"timestamp"`
	RequestID   string    `json:"request_id"`
	LatencyMs   int64     `json:"latency_ms"`
}

// AuditLogger provides persistent storage of invalidation events.
//
// Design decisions:
// - Append-only log (no updates/deletes) for immutability
// - Indexed by timestamp for efficient time-range queries
// - JSONB for flexible key storage without schema changes
type AuditLogger struct {
	db *sqldb.Database
}

// NewAuditLogger creates an audit logger and ensures its schema exists.
func NewAuditLogger(db *sqldb.Database) (*AuditLogger, error) {
	logger := &AuditLogger{db: db}

	if err := logger.ensureSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	return logger, nil
}

func (al *AuditLogger) ensureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS cache_invalidation_audit (
			id BIGSERIAL PRIMARY KEY,
			scope TEXT NOT NULL,
			namespace TEXT NOT NULL DEFAULT '',
			keys JSONB,
			subject TEXT NOT NULL DEFAULT '',
			removed INT NOT NULL DEFAULT 0,
			triggered_by TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			request_id TEXT NOT NULL,
			latency_ms BIGINT DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_cache_invalidation_audit_timestamp
		ON cache_invalidation_audit(timestamp DESC);

		CREATE INDEX IF NOT EXISTS idx_cache_invalidation_audit_namespace
		ON cache_invalidation_audit(namespace);

		CREATE INDEX IF NOT EXISTS idx_cache_invalidation_audit_subject
		ON cache_invalidation_audit(subject);

		CREATE INDEX IF NOT EXISTS idx_cache_invalidation_audit_request_id
		ON cache_invalidation_audit(request_id);
	`

	_, err := al.db.Exec(ctx, query)
	return err
}

// Insert adds a new audit record. Idempotent on request_id replays.
// Complexity: O(1) with index overhead
func (al *AuditLogger) Insert(ctx context.Context, record AuditRecord) error {
	keysJSON, err := json.Marshal(record.Keys)
	if err != nil {
		return fmt.Errorf("failed to marshal keys: %w", err)
	}

	query := `
		INSERT INTO cache_invalidation_audit
		(scope, namespace, keys, subject, removed, triggered_by, timestamp, request_id, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT DO NOTHING
	`

	_, err = al.db.Exec(ctx, query,
		record.Scope,
		record.Namespace,
		keysJSON,
		record.Subject,
		record.Removed,
		record.TriggeredBy,
		record.Timestamp,
		record.RequestID,
		record.LatencyMs,
	)

	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	return nil
}

// GetRecent retrieves recent audit records with pagination, optionally
// filtered by namespace.
// Complexity: O(limit) with index scan
func (al *AuditLogger) GetRecent(ctx context.Context, limit, offset int, namespaceFilter string) ([]AuditRecord, error) {
	var query string
	var args []interface{}

	if namespaceFilter != "" {
		query = `
			SELECT id, scope, namespace, keys, subject, removed, triggered_by, timestamp, request_id, latency_ms
			FROM cache_invalidation_audit
			WHERE namespace = $1
			ORDER BY timestamp DESC
			LIMIT $2 OFFSET $3
		`
		args = []interface{}{namespaceFilter, limit, offset}
	} else {
		query = `
			SELECT id, scope, namespace, keys, subject, removed, triggered_by, timestamp, request_id, latency_ms
			FROM cache_invalidation_audit
			ORDER BY timestamp DESC
			LIMIT $1 OFFSET $2
		`
		args = []interface{}{limit, offset}
	}

	rows, err := al.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	records := make([]AuditRecord, 0, limit)
	for rows.Next() {
		record, err := scanAuditRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit records: %w", err)
	}

	return records, nil
}

// GetByRequestID retrieves audit records by request ID for tracing.
func (al *AuditLogger) GetByRequestID(ctx context.Context, requestID string) ([]AuditRecord, error) {
	query := `
		SELECT id, scope, namespace, keys, subject, removed, triggered_by, timestamp, request_id, latency_ms
		FROM cache_invalidation_audit
		WHERE request_id = $1
		ORDER BY timestamp DESC
	`

	rows, err := al.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records by request ID: %w", err)
	}
	defer rows.Close()

	records := make([]AuditRecord, 0)
	for rows.Next() {
		record, err := scanAuditRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit records: %w", err)
	}

	return records, nil
}

// GetCount returns the total number of audit records, optionally filtered
// by namespace.
func (al *AuditLogger) GetCount(ctx context.Context, namespaceFilter string) (int, error) {
	var query string
	var args []interface{}
	var count int

	if namespaceFilter != "" {
		query = `SELECT COUNT(*) FROM cache_invalidation_audit WHERE namespace = $1`
		args = []interface{}{namespaceFilter}
	} else {
		query = `SELECT COUNT(*) FROM cache_invalidation_audit`
	}

	err := al.db.QueryRow(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit records: %w", err)
	}

	return count, nil
}

// AuditStats summarizes invalidation activity since a cutoff.
type AuditStats struct {
	TotalInvalidations int64            `json:"total_invalidations"`
	ByScope            map[string]int64 `json:"by_scope"`
	TotalRemoved       int64            `json:"total_removed"`
	AvgLatencyMs       float64          `json:"avg_latency_ms"`
}

func (al *AuditLogger) GetStats(ctx context.Context, since time.Time) (*AuditStats, error) {
	stats := &AuditStats{
		ByScope: make(map[string]int64),
	}

	query := `
		SELECT
			COUNT(*) as total,
			COALESCE(SUM(removed), 0) as removed,
			COALESCE(AVG(latency_ms), 0) as avg_latency
		FROM cache_invalidation_audit
		WHERE timestamp >= $1
	`

	err := al.db.QueryRow(ctx, query, since).Scan(
		&stats.TotalInvalidations, &stats.TotalRemoved, &stats.AvgLatencyMs)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get total stats: %w", err)
	}

	scopeQuery := `
		SELECT scope, COUNT(*) as count
		FROM cache_invalidation_audit
		WHERE timestamp >= $1
		GROUP BY scope
	`

	rows, err := al.db.Query(ctx, scopeQuery, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get scope breakdown: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var scope string
		var count int64
		if err := rows.Scan(&scope, &count); err != nil {
			continue
		}
		stats.ByScope[scope] = count
	}

	return stats, nil
}

// Cleanup removes audit records older than the specified duration.
// Run periodically to prevent unbounded growth.
func (al *AuditLogger) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	query := `DELETE FROM cache_invalidation_audit WHERE timestamp < $1`

	result, err := al.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit records: %w", err)
	}

	return result.RowsAffected(), nil
}

// rowScanner matches the subset of *sqldb.Rows used by scanAuditRecord.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuditRecord(row rowScanner) (AuditRecord, error) {
	var record AuditRecord
	var keysJSON []byte

	err := row.Scan(
		&record.ID,
		&record.Scope,
		&record.Namespace,
		&keysJSON,
		&record.Subject,
		&record.Removed,
		&record.TriggeredBy,
		&record.Timestamp,
		&record.RequestID,
		&record.LatencyMs,
	)
	if err != nil {
		return AuditRecord{}, fmt.Errorf("failed to scan audit record: %w", err)
	}

	if len(keysJSON) > 0 {
		if err := json.Unmarshal(keysJSON, &record.Keys); err != nil {
			record.Keys = []string{}
		}
	}

	return record, nil
}
