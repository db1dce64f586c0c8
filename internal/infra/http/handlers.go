package http

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/codebatai/pf-verify/internal/domain"
	"github.com/codebatai/pf-verify/internal/infra/keystore"
	"github.com/codebatai/pf-verify/internal/report"
	"github.com/codebatai/pf-verify/internal/usecase"
	"github.com/codebatai/pf-verify/pkg/receipt"
)

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type verifyReceiptRequest struct {
	Receipt json.RawMessage `json:"receipt"`
}

type verdictBody struct {
	Outcome          string   `json:"outcome"`
	MatchedRuleID    string   `json:"matched_rule_id,omitempty"`
	Reasons          []string `json:"reasons"`
	SignatureChecked bool     `json:"signature_checked"`
}

type verifyReceiptResponse struct {
	VerdictID     string        `json:"verdict_id,omitempty"`
	Verdict       verdictBody   `json:"verdict"`
	Report        report.Report `json:"report"`
	ReceiptDigest string        `json:"receipt_digest,omitempty"`
	PolicyHash    string        `json:"policy_hash"`
	Cached        bool          `json:"cached,omitempty"`
}

type verdictRecordResponse struct {
	VerdictID        string   `json:"verdict_id"`
	ReceiptID        string   `json:"receipt_id"`
	ReceiptDigest    string   `json:"receipt_digest"`
	Subject          string   `json:"subject"`
	Outcome          string   `json:"outcome"`
	MatchedRuleID    string   `json:"matched_rule_id,omitempty"`
	Reasons          []string `json:"reasons"`
	SignatureChecked bool     `json:"signature_checked"`
	PolicyHash       string   `json:"policy_hash"`
	CreatedAt        string   `json:"created_at"`
}

type adminKeyRequest struct {
	KeyID      string `json:"key_id"`
	Algorithm  string `json:"algorithm"`
	PublicKey  string `json:"public_key"`
	Status     string `json:"status,omitempty"`
	Purpose    string `json:"purpose,omitempty"`
	ValidFrom  string `json:"valid_from,omitempty"`
	ValidUntil string `json:"valid_until,omitempty"`
}

type keyResponse struct {
	KeyID      string `json:"key_id"`
	Algorithm  string `json:"algorithm"`
	PublicKey  string `json:"public_key"`
	Status     string `json:"status"`
	Purpose    string `json:"purpose"`
	ValidFrom  string `json:"valid_from,omitempty"`
	ValidUntil string `json:"valid_until,omitempty"`
}

type auditEventResponse struct {
	ID            string `json:"id"`
	Seq           int64  `json:"seq"`
	EventType     string `json:"event_type"`
	Payload       any    `json:"payload"`
	PayloadHash   string `json:"payload_hash"`
	ActorType     string `json:"actor_type"`
	TargetType    string `json:"target_type"`
	TargetID      string `json:"target_id,omitempty"`
	Result        string `json:"result"`
	ErrorCode     string `json:"error_code,omitempty"`
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
	CreatedAt     string `json:"created_at"`
}

func (s *Server) handleVerifyReceipt(c *gin.Context) {
	if !s.enforceRateLimit(c) {
		return
	}
	var req verifyReceiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if len(req.Receipt) == 0 {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_RECEIPT", "receipt is required")
		return
	}
	eval := s.currentPolicy()
	keys := s.keys.Get()
	if eval == nil || keys.Len() == 0 {
		writeErrorCode(c, http.StatusServiceUnavailable, "NOT_READY", "policy or key snapshot not loaded")
		return
	}
	now := time.Now().UTC()

	parsed, err := receipt.Decode(req.Receipt)
	if err != nil {
		verdict := domain.Verdict{
			Outcome: domain.OutcomeMalformedReceipt,
			Reasons: []string{err.Error()},
		}
		s.finishVerification(c, verdict, domain.Receipt{}, "", eval.PolicyHash(), keys, now)
		return
	}

	digest, err := receipt.Digest(parsed)
	if err != nil {
		writeError(c, err)
		return
	}

	cacheKey := verdictCacheKey(digest, eval.PolicyHash())
	if s.cache != nil {
		if cached, ok, err := s.cache.Get(c.Request.Context(), cacheKey); err == nil && ok {
			s.metrics.CacheHits.Inc()
			c.JSON(http.StatusOK, verifyReceiptResponse{
				Verdict:       buildVerdictBody(*cached),
				Report:        report.Build(*cached, parsed, keys, now),
				ReceiptDigest: digest,
				PolicyHash:    eval.PolicyHash(),
				Cached:        true,
			})
			return
		}
		s.metrics.CacheMisses.Inc()
	}

	verdict, err := s.verifyUC.Execute(c.Request.Context(), usecase.VerifyRequest{
		Receipt:             parsed,
		Keys:                keys,
		Policy:              eval,
		Threshold:           s.threshold,
		RequireTransparency: s.requireTransparency,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if s.cache != nil {
		if err := s.cache.Put(c.Request.Context(), cacheKey, verdict, s.cfg.VerdictCacheTTL()); err != nil {
			s.log.Warn("verdict cache put failed", "error", err)
		}
	}
	s.finishVerification(c, verdict, parsed, digest, eval.PolicyHash(), keys, now)
}

// finishVerification counts, persists, audits and responds. Persistence
// failures degrade to log lines; the caller already has its verdict.
func (s *Server) finishVerification(c *gin.Context, verdict domain.Verdict, parsed domain.Receipt, digest, policyHash string, keys *domain.KeySet, now time.Time) {
	s.metrics.Verifications.WithLabelValues(string(verdict.Outcome)).Inc()

	rec := usecase.VerdictRecord{
		ID:               uuid.NewString(),
		ReceiptID:        parsed.ID,
		ReceiptDigest:    digest,
		Subject:          parsed.Subject,
		Outcome:          verdict.Outcome,
		MatchedRuleID:    verdict.MatchedRuleID,
		Reasons:          verdict.Reasons,
		SignatureChecked: verdict.SignatureChecked,
		PolicyHash:       policyHash,
		CreatedAt:        now,
	}
	verdictID := ""
	if s.verdicts != nil {
		if err := s.verdicts.Save(c.Request.Context(), rec); err != nil {
			s.log.Warn("verdict persist failed", "error", err)
		} else {
			verdictID = rec.ID
		}
	}
	if s.audit != nil {
		if err := s.audit.EmitReceiptVerified(c.Request.Context(), verdict, rec); err != nil {
			s.log.Warn("audit emit failed", "error", err)
		}
	}

	c.JSON(http.StatusOK, verifyReceiptResponse{
		VerdictID:     verdictID,
		Verdict:       buildVerdictBody(verdict),
		Report:        report.Build(verdict, parsed, keys, now),
		ReceiptDigest: digest,
		PolicyHash:    policyHash,
	})
}

func (s *Server) handleGetVerdict(c *gin.Context) {
	if s.verdicts == nil {
		writeError(c, domain.ErrUnavailable)
		return
	}
	rec, err := s.verdicts.GetByID(c.Request.Context(), c.Param("verdict_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, verdictRecordResponse{
		VerdictID:        rec.ID,
		ReceiptID:        rec.ReceiptID,
		ReceiptDigest:    rec.ReceiptDigest,
		Subject:          rec.Subject,
		Outcome:          string(rec.Outcome),
		MatchedRuleID:    rec.MatchedRuleID,
		Reasons:          rec.Reasons,
		SignatureChecked: rec.SignatureChecked,
		PolicyHash:       rec.PolicyHash,
		CreatedAt:        rec.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAdminRegisterKey(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var req adminKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	key, err := buildTrustedKey(req)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_KEY", err.Error())
		return
	}
	if s.keyRepo != nil {
		if err := s.keyRepo.Upsert(c.Request.Context(), key); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				writeErrorCode(c, http.StatusConflict, "ALREADY_EXISTS", "key already exists")
				return
			}
			s.emitKeyRegistered(c, key, domain.AuditResultFailure, "PERSIST_FAILED")
			writeError(c, err)
			return
		}
	}
	if err := s.replaceKey(key); err != nil {
		s.emitKeyRegistered(c, key, domain.AuditResultFailure, "SNAPSHOT_REBUILD_FAILED")
		writeError(c, err)
		return
	}
	s.emitKeyRegistered(c, key, domain.AuditResultSuccess, "")
	c.JSON(http.StatusOK, gin.H{"status": "ok", "key_id": key.KeyID})
}

func (s *Server) emitKeyRegistered(c *gin.Context, key domain.TrustedKey, result domain.AuditResult, errorCode string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.EmitKeyRegistered(c.Request.Context(), key.KeyID, key.Algorithm, result, errorCode); err != nil {
		s.log.Warn("audit emit failed", "error", err)
	}
}

func (s *Server) handleAdminListKeys(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	keys := s.keys.Get().Keys()
	out := make([]keyResponse, 0, len(keys))
	for _, key := range keys {
		out = append(out, buildKeyResponse(key))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleAdminRevokeKey(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	keyID := c.Param("key_id")
	key, ok := s.keys.Get().Lookup(keyID)
	if !ok {
		writeError(c, domain.ErrNotFound)
		return
	}
	if s.keyRepo != nil {
		if err := s.keyRepo.UpdateStatus(c.Request.Context(), keyID, domain.KeyStatusRevoked); err != nil && !errors.Is(err, domain.ErrNotFound) {
			writeError(c, err)
			return
		}
	}
	key.Status = domain.KeyStatusRevoked
	if err := s.replaceKey(key); err != nil {
		writeError(c, err)
		return
	}
	if s.audit != nil {
		if err := s.audit.EmitKeyRevoked(c.Request.Context(), keyID, domain.AuditResultSuccess, ""); err != nil {
			s.log.Warn("audit emit failed", "error", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// replaceKey rebuilds the key snapshot with one entry added or overwritten.
func (s *Server) replaceKey(key domain.TrustedKey) error {
	current := s.keys.Get().Keys()
	next := make([]domain.TrustedKey, 0, len(current)+1)
	for _, k := range current {
		if k.KeyID != key.KeyID {
			next = append(next, k)
		}
	}
	next = append(next, key)
	set, err := domain.NewKeySet(next)
	if err != nil {
		return err
	}
	s.keys.Replace(set)
	s.metrics.SnapshotSwaps.Inc()
	return nil
}

func (s *Server) handleAdminReload(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	eval, err := loadPolicyEngine(s.cfg)
	if err != nil {
		s.emitSnapshotReloaded(c, "", 0, domain.AuditResultFailure, "POLICY_LOAD_FAILED")
		writeErrorCode(c, http.StatusBadRequest, "RELOAD_FAILED", err.Error())
		return
	}
	set, err := keystore.LoadFile(s.cfg.KeySetPath)
	if err != nil {
		s.emitSnapshotReloaded(c, "", 0, domain.AuditResultFailure, "KEY_SET_LOAD_FAILED")
		writeErrorCode(c, http.StatusBadRequest, "RELOAD_FAILED", err.Error())
		return
	}
	s.swapPolicy(eval)
	s.keys.Replace(set)
	if s.keyRepo != nil {
		if err := s.mergeStoredKeys(c.Request.Context()); err != nil {
			s.log.Warn("stored key merge failed", "error", err)
		}
	}
	s.emitSnapshotReloaded(c, eval.PolicyHash(), s.keys.Get().Len(), domain.AuditResultSuccess, "")
	c.JSON(http.StatusOK, gin.H{
		"policy_hash": eval.PolicyHash(),
		"key_count":   s.keys.Get().Len(),
	})
}

func (s *Server) emitSnapshotReloaded(c *gin.Context, policyHash string, keyCount int, result domain.AuditResult, errorCode string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.EmitSnapshotReloaded(c.Request.Context(), policyHash, keyCount, result, errorCode); err != nil {
		s.log.Warn("audit emit failed", "error", err)
	}
}

func (s *Server) handleAdminListAuditEvents(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	if s.auditEvents == nil {
		writeError(c, domain.ErrUnavailable)
		return
	}
	events, err := s.auditEvents.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]auditEventResponse, 0, len(events))
	for _, event := range events {
		out = append(out, auditEventResponse{
			ID:            event.ID,
			Seq:           event.Seq,
			EventType:     string(event.EventType),
			Payload:       event.Payload,
			PayloadHash:   event.PayloadHash,
			ActorType:     string(event.ActorType),
			TargetType:    string(event.TargetType),
			TargetID:      event.TargetID,
			Result:        string(event.Result),
			ErrorCode:     event.ErrorCode,
			PrevEventHash: event.PrevEventHash,
			EventHash:     event.EventHash,
			CreatedAt:     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) requireAdmin(c *gin.Context) bool {
	if s.adminAPIKey == "" {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "admin key required")
		return false
	}
	key := c.GetHeader("X-Admin-Key")
	if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.adminAPIKey)) != 1 {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin key")
		return false
	}
	return true
}

func buildTrustedKey(req adminKeyRequest) (domain.TrustedKey, error) {
	if req.KeyID == "" || req.Algorithm == "" || req.PublicKey == "" {
		return domain.TrustedKey{}, errors.New("key_id, algorithm, and public_key are required")
	}
	alg := domain.KeyAlgorithm(req.Algorithm)
	if alg != domain.AlgEd25519 && alg != domain.AlgECDSAP256 {
		return domain.TrustedKey{}, errors.New("unsupported algorithm")
	}
	pub, err := base64.StdEncoding.DecodeString(req.PublicKey)
	if err != nil {
		return domain.TrustedKey{}, errors.New("invalid public key encoding")
	}
	if alg == domain.AlgEd25519 && len(pub) != ed25519.PublicKeySize {
		return domain.TrustedKey{}, errors.New("invalid ed25519 public key size")
	}
	key := domain.TrustedKey{
		KeyID:     req.KeyID,
		Algorithm: alg,
		PublicKey: pub,
		Status:    domain.KeyStatus(req.Status),
		Purpose:   domain.KeyPurpose(req.Purpose),
	}
	if key.Status == "" {
		key.Status = domain.KeyStatusActive
	}
	if key.Purpose == "" {
		key.Purpose = domain.KeyPurposeReceipt
	}
	if req.ValidFrom != "" {
		parsed, err := time.Parse(time.RFC3339, req.ValidFrom)
		if err != nil {
			return domain.TrustedKey{}, errors.New("invalid valid_from")
		}
		parsed = parsed.UTC()
		key.ValidFrom = &parsed
	}
	if req.ValidUntil != "" {
		parsed, err := time.Parse(time.RFC3339, req.ValidUntil)
		if err != nil {
			return domain.TrustedKey{}, errors.New("invalid valid_until")
		}
		parsed = parsed.UTC()
		key.ValidUntil = &parsed
	}
	return key, nil
}

func buildKeyResponse(key domain.TrustedKey) keyResponse {
	resp := keyResponse{
		KeyID:     key.KeyID,
		Algorithm: string(key.Algorithm),
		PublicKey: base64.StdEncoding.EncodeToString(key.PublicKey),
		Status:    string(key.Status),
		Purpose:   string(key.Purpose),
	}
	if key.ValidFrom != nil {
		resp.ValidFrom = key.ValidFrom.UTC().Format(time.RFC3339)
	}
	if key.ValidUntil != nil {
		resp.ValidUntil = key.ValidUntil.UTC().Format(time.RFC3339)
	}
	return resp
}

func buildVerdictBody(v domain.Verdict) verdictBody {
	reasons := v.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	return verdictBody{
		Outcome:          string(v.Outcome),
		MatchedRuleID:    v.MatchedRuleID,
		Reasons:          reasons,
		SignatureChecked: v.SignatureChecked,
	}
}

func verdictCacheKey(digest, policyHash string) string {
	sum := sha256.Sum256([]byte(digest + "\n" + policyHash))
	return hex.EncodeToString(sum[:])
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrMalformedReceipt):
		status, code = http.StatusBadRequest, "MALFORMED_RECEIPT"
	case errors.Is(err, domain.ErrMalformedPolicy):
		status, code = http.StatusBadRequest, "MALFORMED_POLICY"
	case errors.Is(err, domain.ErrSignatureInvalid):
		status, code = http.StatusBadRequest, "SIGNATURE_INVALID"
	case errors.Is(err, domain.ErrKeyUnknown):
		status, code = http.StatusBadRequest, "KEY_UNKNOWN"
	case errors.Is(err, domain.ErrKeyExpired):
		status, code = http.StatusBadRequest, "KEY_EXPIRED"
	case errors.Is(err, domain.ErrKeyRevoked):
		status, code = http.StatusBadRequest, "KEY_REVOKED"
	case errors.Is(err, domain.ErrEmptyKeySet):
		status, code = http.StatusServiceUnavailable, "KEY_SET_EMPTY"
	case errors.Is(err, domain.ErrProofRequired):
		status, code = http.StatusBadRequest, "PROOF_REQUIRED"
	case errors.Is(err, domain.ErrLogProofInvalid):
		status, code = http.StatusBadRequest, "LOG_PROOF_INVALID"
	case errors.Is(err, domain.ErrSTHInvalid):
		status, code = http.StatusBadRequest, "STH_INVALID"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrUnavailable):
		status, code = http.StatusServiceUnavailable, "UNAVAILABLE"
	}
	writeErrorCode(c, status, code, err.Error())
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
