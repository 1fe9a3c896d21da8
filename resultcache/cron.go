package resultcache

import (
	"context"
	"time"

	"encore.dev/cron"
	"encore.dev/rlog"
)

// Purge audit rows past retention so the table stays bounded.
var _ = cron.NewJob("cleanup-audit-log", cron.JobConfig{
	Title:    "Purge expired audit records",
	Schedule: "45 4 * * *",
	Endpoint: CleanupAuditLog,
})

// auditRetention is how long invalidation audit rows are kept.
const auditRetention = 30 * 24 * time.Hour

// CleanupAuditLog deletes audit records older than the retention window.
//
//encore:api private
func CleanupAuditLog(ctx context.Context) error {
	if _, err := initService(); err != nil {
		return err
	}
	return svc.CleanupAuditLog(ctx)
}

func (s *Service) CleanupAuditLog(ctx context.Context) error {
	if s.audit == nil {
		return nil
	}

	removed, err := s.audit.Cleanup(ctx, auditRetention)
	if err != nil {
		rlog.Error("audit log cleanup failed", "err", err)
		return err
	}

	rlog.Info("purged expired audit records",
		"removed", removed,
		"retention", auditRetention.String())
	return nil
}
