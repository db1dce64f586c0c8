package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/codebatai/pf-verify/internal/domain"
)

// ZeroEventHash seeds the chain before the first event.
const ZeroEventHash = "0000000000000000000000000000000000000000000000000000000000000000"

// PayloadHash is the SHA-256 of the canonical JSON form of an event payload.
func PayloadHash(payload any) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode audit payload: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize audit payload: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

type chainPayload struct {
	Version       string `json:"v"`
	Seq           int64  `json:"seq"`
	EventType     string `json:"event_type"`
	PayloadHash   string `json:"payload_hash"`
	PrevEventHash string `json:"prev_event_hash"`
	CreatedAt     string `json:"created_at"`
}

// ComputeEventHash links one event to its predecessor. The hash covers the
// chain version, sequence, event type, payload hash and the previous hash, so
// rewriting any stored event breaks every later link.
func ComputeEventHash(event domain.AuditEvent) (string, error) {
	if event.EventType == "" {
		return "", errors.New("audit event missing event_type")
	}
	if event.PayloadHash == "" || event.PrevEventHash == "" {
		return "", errors.New("audit event missing payload_hash or prev_event_hash")
	}
	raw, err := json.Marshal(chainPayload{
		Version:       domain.AuditChainVersion,
		Seq:           event.Seq,
		EventType:     string(event.EventType),
		PayloadHash:   event.PayloadHash,
		PrevEventHash: event.PrevEventHash,
		CreatedAt:     event.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyAuditChain replays the stored chain and fails on the first reseq,
// tamper or fork it finds. An empty chain is valid.
func VerifyAuditChain(ctx context.Context, repo AuditEventRepository) error {
	if repo == nil {
		return errors.New("audit repository required")
	}
	events, err := repo.List(ctx)
	if err != nil {
		return err
	}

	expectedSeq := int64(1)
	prevHash := ZeroEventHash
	for _, event := range events {
		if event.Seq != expectedSeq {
			return fmt.Errorf("audit chain seq mismatch: expected %d got %d", expectedSeq, event.Seq)
		}
		if event.PrevEventHash != prevHash {
			return fmt.Errorf("audit chain prev hash mismatch at seq %d", event.Seq)
		}
		payloadHash, err := PayloadHash(event.Payload)
		if err != nil {
			return fmt.Errorf("audit chain payload decode failed at seq %d: %w", event.Seq, err)
		}
		if payloadHash != event.PayloadHash {
			return fmt.Errorf("audit chain payload hash mismatch at seq %d", event.Seq)
		}
		if event.CreatedAt.IsZero() {
			return fmt.Errorf("audit chain missing created_at at seq %d", event.Seq)
		}
		eventHash, err := ComputeEventHash(event)
		if err != nil {
			return fmt.Errorf("audit chain hash compute failed at seq %d: %w", event.Seq, err)
		}
		if eventHash != event.EventHash {
			return fmt.Errorf("audit chain hash mismatch at seq %d", event.Seq)
		}
		prevHash = event.EventHash
		expectedSeq++
	}
	return nil
}
