// Package resultcache implements a confidence-gated result cache with namespaced
// storage, TTL expiration, LRU eviction, subject-scoped invalidation, proactive
// warming, and event-driven coordination via Pub/Sub.
//
// Design Choices:
// - Admission is gated on the payload's self-reported confidence: low-confidence
//   results are recomputed every time rather than served stale. Refusal is a
//   decision with a reason, never an error.
// - The in-memory store is authoritative. An optional RemoteKV tier can be
//   injected; all of its failures degrade to a forced miss so callers always
//   fall back to recomputation.
// - Lookups never compute. Population happens via Set (write-through from the
//   pipeline) or via the warming pool, which delegates to an injected Computer.
// - Pub/Sub invalidation broadcast keeps replica stores eventually consistent,
//   and every invalidation writes an immutable audit row.
//
// Performance Characteristics:
// - Get: O(1) average, store only
// - Set: O(1) with LRU update and index maintenance
// - Namespace/subject invalidation: O(k) for k targeted entries
package resultcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"encore.dev/rlog"
	"encore.dev/storage/sqldb"
	"github.com/google/uuid"

	"encore.app/pkg/middleware"
	"encore.app/pkg/models"
	events "encore.app/pkg/pubsub"
)

// Admission refusal reasons returned by Set.
const (
	ReasonBelowThreshold    = "below_confidence_threshold"
	ReasonNamespaceDisabled = "namespace_disabled"
)

var cacheDB = sqldb.Named("resultcache")

// Service implements the result cache.
//encore:service
type Service struct {
	store  *Store
	remote RemoteKV
	audit  *AuditLogger
	warmer *Warmer

	config   Config
	configMu sync.RWMutex

	counters   map[string]*namespaceCounters
	countersMu sync.RWMutex
	evictions  atomic.Uint64

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// Config holds runtime configuration for the result cache.
type Config struct {
	MaxEntries      int                        `json:"max_entries"`
	DefaultTTL      time.Duration              `json:"default_ttl"`
	CleanupInterval time.Duration              `json:"cleanup_interval"`
	Namespaces      map[string]NamespaceConfig `json:"namespaces"`
}

// NamespaceConfig overrides cache behavior for one namespace.
type NamespaceConfig struct {
	// AdmissionThreshold is the minimum confidence to cache. Negative means
	// fall back to models.DefaultAdmissionThreshold.
	AdmissionThreshold float64 `json:"admission_threshold"`

	// TTL for entries in this namespace. Zero means the service default.
	TTL time.Duration `json:"ttl"`

	// Disabled refuses every write to this namespace.
	Disabled bool `json:"disabled"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		MaxEntries:      10000,
		DefaultTTL:      models.DefaultTTL,
		CleanupInterval: 1 * time.Minute,
		Namespaces:      make(map[string]NamespaceConfig),
	}
}

// RemoteKV abstracts an optional shared cache tier (Redis, Memcached, etc.).
// Every error is treated as a miss; the in-memory store stays authoritative.
type RemoteKV interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, namespace, key string) error
}

// namespaceCounters accumulates monotonic per-namespace counters.
type namespaceCounters struct {
	Hits     atomic.Uint64
	Misses   atomic.Uint64
	Sets     atomic.Uint64
	Refusals atomic.Uint64
	Deletes  atomic.Uint64
}

// Request and response types for API endpoints.

type GetResponse struct {
	Hit         bool       `json:"hit"`
	Payload     any        `json:"payload,omitempty"`
	Confidence  float64    `json:"confidence,omitempty"`
	Source      string     `json:"source,omitempty"` // "memory", "remote"
	CachedAt    *time.Time `json:"cached_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	AccessCount uint64     `json:"access_count,omitempty"`
}

type SetRequest struct {
	Payload any `json:"payload"`

	// Confidence of the payload. Negative means the payload carries no
	// score and models.UnscoredConfidence is substituted.
	Confidence float64 `json:"confidence"`

	TTLSeconds int               `json:"ttl_seconds"` // 0 means namespace default
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type SetResponse struct {
	Cached    bool       `json:"cached"`
	Reason    string     `json:"reason,omitempty"` // set when Cached is false
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type InvalidateRequest struct {
	// Namespace to invalidate within. Required unless Subject is set.
	Namespace string `json:"namespace,omitempty"`

	// Keys to invalidate. The single key "*" clears the whole namespace.
	Keys []string `json:"keys,omitempty"`

	// Subject clears every entry indexed under a subject ID, across all
	// namespaces. Mutually exclusive with Namespace/Keys.
	Subject string `json:"subject,omitempty"`

	// TriggeredBy identifies the caller for the audit trail.
	TriggeredBy string `json:"triggered_by,omitempty"`
}

type InvalidateResponse struct {
	Removed   int    `json:"removed"`
	RequestID string `json:"request_id"`
}

type StatsResponse struct {
	Total      models.StatsSnapshot    `json:"total"`
	Namespaces []models.NamespaceStats `json:"namespaces"`
}

type ConfigResponse struct {
	MaxEntries      int                        `json:"max_entries"`
	DefaultTTLSecs  int                        `json:"default_ttl_seconds"`
	CleanupInterval string                     `json:"cleanup_interval"`
	Namespaces      map[string]NamespaceConfig `json:"namespaces"`
}

type UpdateNamespaceConfigRequest struct {
	Namespace          string   `json:"namespace"`
	AdmissionThreshold *float64 `json:"admission_threshold,omitempty"`
	TTLSeconds         *int     `json:"ttl_seconds,omitempty"`
	Disabled           *bool    `json:"disabled,omitempty"`
}

var (
	// Global service instance (initialized by initService)
	svc  *Service
	once sync.Once
)

// initService initializes the result cache with default configuration.
// Called automatically by Encore at startup.
func initService() (*Service, error) {
	var initErr error
	once.Do(func() {
		config := DefaultConfig()

		s := &Service{
			store:    NewStore(config.MaxEntries),
			config:   config,
			counters: make(map[string]*namespaceCounters),
			stopChan: make(chan struct{}),
		}

		audit, err := NewAuditLogger(cacheDB)
		if err != nil {
			initErr = fmt.Errorf("audit logger init: %w", err)
			return
		}
		s.audit = audit

		s.warmer = NewWarmer(s, DefaultWarmConfig())
		if c := registeredComputer(); c != nil {
			s.warmer.SetComputer(c)
		}

		s.wg.Add(1)
		go s.runTTLCleanup()

		svc = s
	})

	if initErr != nil {
		return nil, initErr
	}
	return svc, nil
}

// SetRemoteKV injects the optional remote cache tier (for production or testing).
func (s *Service) SetRemoteKV(remote RemoteKV) {
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.remote = remote
}

// SetComputer injects the origin that warming tasks compute through.
// The forecast pipeline registers itself here at startup.
func (s *Service) SetComputer(c Computer) {
	s.warmer.SetComputer(c)
}

// Get retrieves a cached result. A miss is reported immediately; the cache
// never computes on the read path.
// Complexity: O(1) average.
//encore:api public method=GET path=/cache/:namespace/:key
func Get(ctx context.Context, namespace, key string) (*GetResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.Get(ctx, namespace, key)
}

func (s *Service) Get(ctx context.Context, namespace, key string) (*GetResponse, error) {
	if namespace == "" || key == "" {
		return nil, errors.New("namespace and key cannot be empty")
	}

	counters := s.countersFor(namespace)

	if entry, ok := s.store.Get(namespace, key); ok {
		counters.Hits.Add(1)
		expiresAt := entry.ExpiresAt()
		return &GetResponse{
			Hit:         true,
			Payload:     entry.Payload,
			Confidence:  entry.Confidence,
			Source:      "memory",
			CachedAt:    &entry.CreatedAt,
			ExpiresAt:   &expiresAt,
			AccessCount: entry.GetAccessCount(),
		}, nil
	}

	if entry, ok := s.remoteLookup(ctx, namespace, key); ok {
		counters.Hits.Add(1)
		expiresAt := entry.ExpiresAt()
		return &GetResponse{
			Hit:        true,
			Payload:    entry.Payload,
			Confidence: entry.Confidence,
			Source:     "remote",
			CachedAt:   &entry.CreatedAt,
			ExpiresAt:  &expiresAt,
		}, nil
	}

	counters.Misses.Add(1)
	return &GetResponse{Hit: false}, nil
}

// remoteLookup consults the remote tier, populating the local store on a hit.
// Any remote error is swallowed and reported as a miss.
func (s *Service) remoteLookup(ctx context.Context, namespace, key string) (*models.Entry, bool) {
	s.configMu.RLock()
	remote := s.remote
	s.configMu.RUnlock()

	if remote == nil {
		return nil, false
	}

	data, ok, err := remote.Get(ctx, namespace, key)
	if err != nil {
		rlog.Warn("remote cache lookup failed, treating as miss",
			"namespace", namespace, "key", key, "err", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var entry models.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		rlog.Warn("remote cache entry corrupt, treating as miss",
			"namespace", namespace, "key", key, "err", err)
		return nil, false
	}
	if entry.IsExpired(time.Now()) {
		return nil, false
	}

	s.store.Set(&entry)
	return &entry, true
}

// Set stores a result, subject to confidence-gated admission. A refused
// write returns Cached=false with a reason; it is not an error.
// Complexity: O(1).
//encore:api public method=PUT path=/cache/:namespace/:key
func Set(ctx context.Context, namespace, key string, req *SetRequest) (*SetResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.Set(ctx, namespace, key, req)
}

func (s *Service) Set(ctx context.Context, namespace, key string, req *SetRequest) (*SetResponse, error) {
	if namespace == "" || key == "" {
		return nil, errors.New("namespace and key cannot be empty")
	}
	if req.Payload == nil {
		return nil, errors.New("payload cannot be nil")
	}

	nsCfg := s.namespaceConfig(namespace)
	counters := s.countersFor(namespace)

	if nsCfg.Disabled {
		counters.Refusals.Add(1)
		return &SetResponse{Cached: false, Reason: ReasonNamespaceDisabled}, nil
	}

	confidence := models.EffectiveConfidence(req.Confidence)
	threshold := s.thresholdFor(nsCfg)
	if confidence < threshold {
		counters.Refusals.Add(1)
		return &SetResponse{Cached: false, Reason: ReasonBelowThreshold}, nil
	}

	ttl := s.ttlFor(nsCfg)
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	entry := models.NewEntry(namespace, key, req.Payload, confidence, ttl)
	for k, v := range req.Metadata {
		entry.Metadata[k] = v
	}

	evicted := s.store.Set(entry)
	s.evictions.Add(uint64(evicted))
	counters.Sets.Add(1)

	// Best-effort write-through to the remote tier.
	s.configMu.RLock()
	remote := s.remote
	s.configMu.RUnlock()
	if remote != nil {
		if data, err := json.Marshal(entry); err == nil {
			if err := remote.Set(ctx, namespace, key, data, ttl); err != nil {
				rlog.Warn("remote cache write failed",
					"namespace", namespace, "key", key, "err", err)
			}
		}
	}

	expiresAt := entry.ExpiresAt()
	return &SetResponse{Cached: true, ExpiresAt: &expiresAt}, nil
}

// Invalidate removes entries by exact key, namespace wildcard, or subject ID.
// Publishes an invalidation event and writes an audit row.
// Complexity: O(k) for k targeted entries.
//encore:api public method=POST path=/cache/invalidate
func Invalidate(ctx context.Context, req *InvalidateRequest) (*InvalidateResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.Invalidate(ctx, req)
}

func (s *Service) Invalidate(ctx context.Context, req *InvalidateRequest) (*InvalidateResponse, error) {
	start := time.Now()

	// Callers that already carry a correlation ID (raw endpoints, internal
	// jobs) keep it, so their audit rows trace back to the originating
	// request.
	requestID := middleware.RequestIDFromCtx(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	event := &events.InvalidationEvent{
		Version:     events.EventVersion1,
		Service:     "resultcache",
		TriggeredAt: start,
		RequestID:   requestID,
	}

	removed := 0
	switch {
	case req.Subject != "":
		if req.Namespace != "" || len(req.Keys) > 0 {
			return nil, errors.New("subject invalidation cannot be combined with namespace or keys")
		}
		removed = s.store.DeleteSubject(req.Subject)
		event.Scope = events.ScopeSubject
		event.Subject = req.Subject

	case req.Namespace != "" && len(req.Keys) == 1 && req.Keys[0] == "*":
		// Remote-tier entries are not enumerable by namespace; they age
		// out by TTL instead.
		removed = s.store.DeleteNamespace(req.Namespace)
		event.Scope = events.ScopeNamespace
		event.Namespace = req.Namespace

	case req.Namespace != "" && len(req.Keys) > 0:
		for _, key := range req.Keys {
			if s.store.Delete(req.Namespace, key) {
				removed++
			}
			s.remoteDelete(ctx, req.Namespace, key)
		}
		event.Scope = events.ScopeKey
		event.Namespace = req.Namespace
		event.Keys = req.Keys

	default:
		return nil, errors.New("request must target a subject, a namespace wildcard, or explicit keys")
	}

	event.Removed = removed
	if event.Scope != events.ScopeKey {
		s.countersFor(scopeCounterKey(event)).Deletes.Add(uint64(removed))
	} else {
		s.countersFor(req.Namespace).Deletes.Add(uint64(removed))
	}

	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("invalid invalidation event: %w", err)
	}
	if _, err := InvalidationTopic.Publish(ctx, event); err != nil {
		rlog.Error("failed to publish invalidation event", "request_id", requestID, "err", err)
	}

	s.recordAudit(ctx, event, req.TriggeredBy, time.Since(start))

	return &InvalidateResponse{Removed: removed, RequestID: requestID}, nil
}

// scopeCounterKey picks which counter bucket a non-key-scoped invalidation
// lands in. Subject invalidations span namespaces, so they share one bucket.
func scopeCounterKey(event *events.InvalidationEvent) string {
	if event.Scope == events.ScopeSubject {
		return "subject"
	}
	return event.Namespace
}

func (s *Service) remoteDelete(ctx context.Context, namespace, key string) {
	s.configMu.RLock()
	remote := s.remote
	s.configMu.RUnlock()
	if remote == nil {
		return
	}
	if err := remote.Delete(ctx, namespace, key); err != nil {
		rlog.Warn("remote cache delete failed",
			"namespace", namespace, "key", key, "err", err)
	}
}

// recordAudit writes the invalidation to the audit trail. Audit failures are
// logged, never surfaced; the invalidation itself already succeeded.
func (s *Service) recordAudit(ctx context.Context, event *events.InvalidationEvent, triggeredBy string, latency time.Duration) {
	if s.audit == nil {
		return
	}
	if triggeredBy == "" {
		triggeredBy = "api"
	}

	record := AuditRecord{
		Scope:       string(event.Scope),
		Namespace:   event.Namespace,
		Keys:        event.Keys,
		Subject:     event.Subject,
		Removed:     event.Removed,
		TriggeredBy: triggeredBy,
		Timestamp:   event.TriggeredAt,
		RequestID:   event.RequestID,
		LatencyMs:   latency.Milliseconds(),
	}
	if err := s.audit.Insert(ctx, record); err != nil {
		rlog.Error("failed to write invalidation audit row",
			"request_id", event.RequestID, "err", err)
	}
}

// Stats returns monotonic counters, cache-wide and per namespace.
//encore:api public method=GET path=/cache/stats
func Stats(ctx context.Context) (*StatsResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.Stats(ctx)
}

func (s *Service) Stats(ctx context.Context) (*StatsResponse, error) {
	s.countersMu.RLock()
	names := make([]string, 0, len(s.counters))
	for name := range s.counters {
		names = append(names, name)
	}
	s.countersMu.RUnlock()

	perNamespace := make([]models.NamespaceStats, 0, len(names))
	total := models.NewStatsSnapshot(0, 0, 0, 0, 0, s.evictions.Load(), 0)

	for _, name := range names {
		c := s.countersFor(name)
		snapshot := models.NewStatsSnapshot(
			c.Hits.Load(),
			c.Misses.Load(),
			c.Sets.Load(),
			c.Refusals.Load(),
			c.Deletes.Load(),
			0, // evictions are tracked store-wide, not per namespace
			uint64(s.store.NamespaceSize(name)),
		)
		perNamespace = append(perNamespace, models.NamespaceStats{
			Namespace: name,
			Stats:     snapshot,
		})

		total = models.MergeSnapshots(total, snapshot)
	}

	// Namespace sizes can lag the store total while eviction runs.
	total.Entries = uint64(s.store.Size())
	models.SortNamespaceStats(perNamespace)

	return &StatsResponse{Total: total, Namespaces: perNamespace}, nil
}

type AuditQueryRequest struct {
	Limit     int    `query:"limit"`
	Offset    int    `query:"offset"`
	Namespace string `query:"namespace"`
	RequestID string `query:"request_id"`
}

type AuditQueryResponse struct {
	Records []AuditRecord `json:"records"`
	Total   int           `json:"total"`
}

// GetAuditLog returns recent invalidation audit records, newest first.
//encore:api public method=GET path=/cache/audit
func GetAuditLog(ctx context.Context, req *AuditQueryRequest) (*AuditQueryResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.GetAuditLog(ctx, req)
}

func (s *Service) GetAuditLog(ctx context.Context, req *AuditQueryRequest) (*AuditQueryResponse, error) {
	if s.audit == nil {
		return nil, errors.New("audit trail not available")
	}

	// A request ID names a single invalidation, so the filter bypasses
	// pagination and the namespace filter.
	if req.RequestID != "" {
		records, err := s.audit.GetByRequestID(ctx, req.RequestID)
		if err != nil {
			return nil, err
		}
		return &AuditQueryResponse{Records: records, Total: len(records)}, nil
	}

	limit := req.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	records, err := s.audit.GetRecent(ctx, limit, offset, req.Namespace)
	if err != nil {
		return nil, err
	}
	total, err := s.audit.GetCount(ctx, req.Namespace)
	if err != nil {
		return nil, err
	}

	return &AuditQueryResponse{Records: records, Total: total}, nil
}

type AuditStatsRequest struct {
	SinceHours int `query:"since_hours"`
}

type AuditStatsResponse struct {
	Since time.Time   `json:"since"`
	Stats *AuditStats `json:"stats"`
}

// GetAuditStats summarizes invalidation activity over a trailing window,
// 24 hours unless since_hours is given.
//encore:api public method=GET path=/cache/audit/stats
func GetAuditStats(ctx context.Context, req *AuditStatsRequest) (*AuditStatsResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.GetAuditStats(ctx, req)
}

func (s *Service) GetAuditStats(ctx context.Context, req *AuditStatsRequest) (*AuditStatsResponse, error) {
	if s.audit == nil {
		return nil, errors.New("audit trail not available")
	}

	hours := req.SinceHours
	if hours <= 0 {
		hours = 24
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour)

	stats, err := s.audit.GetStats(ctx, since)
	if err != nil {
		return nil, err
	}
	return &AuditStatsResponse{Since: since, Stats: stats}, nil
}

// GetConfig returns the current cache configuration.
//encore:api public method=GET path=/cache/config
func GetConfig(ctx context.Context) (*ConfigResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.GetConfig(ctx)
}

func (s *Service) GetConfig(ctx context.Context) (*ConfigResponse, error) {
	s.configMu.RLock()
	defer s.configMu.RUnlock()

	namespaces := make(map[string]NamespaceConfig, len(s.config.Namespaces))
	for name, cfg := range s.config.Namespaces {
		namespaces[name] = cfg
	}

	return &ConfigResponse{
		MaxEntries:      s.config.MaxEntries,
		DefaultTTLSecs:  int(s.config.DefaultTTL / time.Second),
		CleanupInterval: s.config.CleanupInterval.String(),
		Namespaces:      namespaces,
	}, nil
}

// UpdateNamespaceConfig adjusts admission threshold, TTL, or disablement for
// one namespace at runtime. Existing entries are unaffected; the new settings
// apply to subsequent writes.
//encore:api public method=POST path=/cache/config/namespace
func UpdateNamespaceConfig(ctx context.Context, req *UpdateNamespaceConfigRequest) (*ConfigResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.UpdateNamespaceConfig(ctx, req)
}

func (s *Service) UpdateNamespaceConfig(ctx context.Context, req *UpdateNamespaceConfigRequest) (*ConfigResponse, error) {
	if req.Namespace == "" {
		return nil, errors.New("namespace cannot be empty")
	}
	if req.AdmissionThreshold != nil && (*req.AdmissionThreshold < 0 || *req.AdmissionThreshold > 1) {
		return nil, errors.New("admission threshold must be in [0, 1]")
	}
	if req.TTLSeconds != nil && *req.TTLSeconds < 0 {
		return nil, errors.New("ttl_seconds cannot be negative")
	}

	s.configMu.Lock()
	cfg, exists := s.config.Namespaces[req.Namespace]
	if !exists {
		cfg = NamespaceConfig{AdmissionThreshold: -1}
	}
	if req.AdmissionThreshold != nil {
		cfg.AdmissionThreshold = *req.AdmissionThreshold
	}
	if req.TTLSeconds != nil {
		cfg.TTL = time.Duration(*req.TTLSeconds) * time.Second
	}
	if req.Disabled != nil {
		cfg.Disabled = *req.Disabled
	}
	s.config.Namespaces[req.Namespace] = cfg
	s.configMu.Unlock()

	rlog.Info("namespace config updated", "namespace", req.Namespace,
		"threshold", cfg.AdmissionThreshold, "ttl", cfg.TTL, "disabled", cfg.Disabled)

	return s.GetConfig(ctx)
}

// namespaceConfig returns the effective config for a namespace.
func (s *Service) namespaceConfig(namespace string) NamespaceConfig {
	s.configMu.RLock()
	defer s.configMu.RUnlock()

	if cfg, ok := s.config.Namespaces[namespace]; ok {
		return cfg
	}
	return NamespaceConfig{AdmissionThreshold: -1}
}

func (s *Service) thresholdFor(cfg NamespaceConfig) float64 {
	if cfg.AdmissionThreshold < 0 {
		return models.DefaultAdmissionThreshold
	}
	return cfg.AdmissionThreshold
}

func (s *Service) ttlFor(cfg NamespaceConfig) time.Duration {
	if cfg.TTL > 0 {
		return cfg.TTL
	}
	s.configMu.RLock()
	defer s.configMu.RUnlock()
	return s.config.DefaultTTL
}

// countersFor returns the counter bucket for a namespace, creating it lazily.
func (s *Service) countersFor(namespace string) *namespaceCounters {
	s.countersMu.RLock()
	c, ok := s.counters[namespace]
	s.countersMu.RUnlock()
	if ok {
		return c
	}

	s.countersMu.Lock()
	defer s.countersMu.Unlock()
	if c, ok := s.counters[namespace]; ok {
		return c
	}
	c = &namespaceCounters{}
	s.counters[namespace] = c
	return c
}

// runTTLCleanup periodically removes expired entries from the store.
func (s *Service) runTTLCleanup() {
	defer s.wg.Done()

	s.configMu.RLock()
	interval := s.config.CleanupInterval
	s.configMu.RUnlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			removed := s.store.CleanupExpired()
			s.evictions.Add(uint64(removed))
		}
	}
}

// Shutdown gracefully stops the service.
func (s *Service) Shutdown() {
	close(s.stopChan)
	s.warmer.Shutdown()
	s.wg.Wait()
}
