package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codebatai/pf-verify/internal/config"
	"github.com/codebatai/pf-verify/internal/domain"
	"github.com/codebatai/pf-verify/internal/infra/cachemem"
	"github.com/codebatai/pf-verify/internal/infra/crypto"
	"github.com/codebatai/pf-verify/internal/infra/db"
	"github.com/codebatai/pf-verify/internal/infra/keystore"
	"github.com/codebatai/pf-verify/internal/infra/merkle"
	"github.com/codebatai/pf-verify/internal/infra/policy"
	"github.com/codebatai/pf-verify/internal/infra/policyrego"
	"github.com/codebatai/pf-verify/internal/infra/ratelimit"
	"github.com/codebatai/pf-verify/internal/usecase"
)

// policySnapshot wraps the evaluator so the whole thing swaps through one
// atomic pointer on reload.
type policySnapshot struct {
	eval usecase.PolicyEvaluator
}

type Server struct {
	cfg   config.Config
	store *db.Store
	log   *slog.Logger
	r     *gin.Engine

	verifyUC *usecase.VerifyReceipt
	policy   atomic.Pointer[policySnapshot]
	keys     *keystore.Holder

	verdicts    usecase.VerdictRepository
	keyRepo     usecase.KeyRepository
	auditEvents usecase.AuditEventRepository
	audit       *usecase.AuditEmitter
	cache       usecase.VerdictCache
	metrics     *Metrics

	adminAPIKey         string
	threshold           int
	requireTransparency bool

	rateLimiter         domain.RateLimiter
	rateLimitRequests   int
	rateLimitWindow     time.Duration
	rateLimitFailClosed bool
}

// NewServer assembles the daemon from configuration: policy and key
// snapshots from their configured paths, repositories when a database is
// attached, and the verdict cache when a TTL is set.
func NewServer(cfg config.Config, store *db.Store, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:                 cfg,
		store:               store,
		log:                 logger,
		r:                   r,
		adminAPIKey:         cfg.AdminAPIKey,
		threshold:           cfg.SignatureThreshold,
		requireTransparency: cfg.RequireTransparency,
		metrics:             NewMetrics(),
	}
	s.verifyUC = &usecase.VerifyReceipt{
		Encoder: crypto.Codec{},
		Crypto:  crypto.NewVerifier(),
		Merkle:  &merkle.Service{},
	}

	eval, err := loadPolicyEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	s.policy.Store(&policySnapshot{eval: eval})

	keySet, err := keystore.LoadFile(cfg.KeySetPath)
	if err != nil {
		return nil, fmt.Errorf("load key set: %w", err)
	}
	s.keys = keystore.NewHolder(keySet)

	if store.Available() {
		s.verdicts = db.NewVerdictRepository(store.DB)
		s.keyRepo = db.NewKeyRepository(store.DB)
		s.auditEvents = db.NewAuditEventRepository(store.DB)
		s.audit = usecase.NewAuditEmitter(s.auditEvents, nil)
		if err := s.mergeStoredKeys(context.Background()); err != nil {
			return nil, fmt.Errorf("merge stored keys: %w", err)
		}
	}
	if cfg.VerdictCacheTTLSeconds > 0 {
		s.cache = cachemem.New()
	}

	s.initRateLimit(nil)
	s.routes()
	return s, nil
}

// ServerDeps replaces configuration-driven wiring in tests.
type ServerDeps struct {
	Policy      usecase.PolicyEvaluator
	Keys        *domain.KeySet
	Verdicts    usecase.VerdictRepository
	KeyRepo     usecase.KeyRepository
	AuditEvents usecase.AuditEventRepository
	Cache       usecase.VerdictCache
	AdminAPIKey string
	RateLimiter domain.RateLimiter

	Threshold           int
	RequireTransparency bool
}

func NewServerWithDeps(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:                 cfg,
		log:                 slog.Default(),
		r:                   r,
		verdicts:            deps.Verdicts,
		keyRepo:             deps.KeyRepo,
		auditEvents:         deps.AuditEvents,
		cache:               deps.Cache,
		adminAPIKey:         deps.AdminAPIKey,
		threshold:           deps.Threshold,
		requireTransparency: deps.RequireTransparency,
		metrics:             NewMetrics(),
	}
	s.verifyUC = &usecase.VerifyReceipt{
		Encoder: crypto.Codec{},
		Crypto:  crypto.NewVerifier(),
		Merkle:  &merkle.Service{},
	}
	if deps.Policy != nil {
		s.policy.Store(&policySnapshot{eval: deps.Policy})
	}
	s.keys = keystore.NewHolder(deps.Keys)
	if deps.AuditEvents != nil {
		s.audit = usecase.NewAuditEmitter(deps.AuditEvents, nil)
	}
	s.initRateLimit(deps.RateLimiter)
	s.routes()
	return s
}

func loadPolicyEngine(cfg config.Config) (usecase.PolicyEvaluator, error) {
	switch cfg.PolicyEngine {
	case "rego":
		return policyrego.NewEngineFromBundlePath(context.Background(), cfg.PolicyPath)
	default:
		return policy.LoadFile(cfg.PolicyPath)
	}
}

func (s *Server) currentPolicy() usecase.PolicyEvaluator {
	snap := s.policy.Load()
	if snap == nil {
		return nil
	}
	return snap.eval
}

func (s *Server) swapPolicy(eval usecase.PolicyEvaluator) {
	s.policy.Store(&policySnapshot{eval: eval})
	s.metrics.SnapshotSwaps.Inc()
}

// mergeStoredKeys folds database-registered keys over the file snapshot.
// Database entries win on key id so revocations survive restarts.
func (s *Server) mergeStoredKeys(ctx context.Context) error {
	stored, err := s.keyRepo.List(ctx)
	if err != nil {
		return err
	}
	if len(stored) == 0 {
		return nil
	}
	merged := map[string]domain.TrustedKey{}
	for _, k := range s.keys.Get().Keys() {
		merged[k.KeyID] = k
	}
	for _, k := range stored {
		merged[k.KeyID] = k
	}
	all := make([]domain.TrustedKey, 0, len(merged))
	for _, k := range merged {
		all = append(all, k)
	}
	set, err := domain.NewKeySet(all)
	if err != nil {
		return err
	}
	s.keys.Replace(set)
	return nil
}

func (s *Server) initRateLimit(override domain.RateLimiter) {
	if override != nil {
		s.rateLimiter = override
	}
	if s.rateLimiter == nil && s.cfg.RateLimitRequests > 0 {
		if s.cfg.RedisAddr != "" {
			if limiter, err := ratelimit.NewRedisLimiter(s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB, nil); err == nil {
				s.rateLimiter = limiter
			}
		}
		if s.rateLimiter == nil {
			s.rateLimiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{
				MaxKeys: s.cfg.RateLimitMaxKeys,
			})
		}
	}
	s.rateLimitRequests = s.cfg.RateLimitRequests
	if s.cfg.RateLimitWindowSeconds > 0 {
		s.rateLimitWindow = time.Duration(s.cfg.RateLimitWindowSeconds) * time.Second
	}
	s.rateLimitFailClosed = s.cfg.RateLimitFailClosed
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		dbMode := "no-db"
		if s.store.Available() {
			dbMode = "db"
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": dbMode})
	})
	s.r.GET("/readyz", func(c *gin.Context) {
		if s.currentPolicy() == nil || s.keys.Get().Len() == 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "loading"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	s.r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))

	v1 := s.r.Group("/v1")
	{
		v1.POST("/receipts/verify", s.handleVerifyReceipt)
		v1.GET("/verdicts/:verdict_id", s.handleGetVerdict)

		v1.POST("/admin/keys", s.handleAdminRegisterKey)
		v1.GET("/admin/keys", s.handleAdminListKeys)
		v1.POST("/admin/keys/:key_id/revoke", s.handleAdminRevokeKey)
		v1.POST("/admin/reload", s.handleAdminReload)
		v1.GET("/admin/audit/events", s.handleAdminListAuditEvents)
	}

	s.r.NoRoute(func(c *gin.Context) {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
}

func (s *Server) Run() error {
	return s.r.Run(s.cfg.HTTPAddr)
}
