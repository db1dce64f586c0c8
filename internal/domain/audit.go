package domain

import "time"

const AuditChainVersion = "audit_chain_v1"

type AuditActorType string

const (
	AuditActorSystem      AuditActorType = "system"
	AuditActorAdminAPIKey AuditActorType = "admin_api_key"
	AuditActorService     AuditActorType = "service"
)

type AuditEventType string

const (
	AuditEventReceiptVerified  AuditEventType = "receipt_verified"
	AuditEventKeyRegistered    AuditEventType = "key_registered"
	AuditEventKeyRevoked       AuditEventType = "key_revoked"
	AuditEventSnapshotReloaded AuditEventType = "snapshot_reloaded"
)

type AuditTargetType string

const (
	AuditTargetReceipt  AuditTargetType = "receipt"
	AuditTargetKey      AuditTargetType = "key"
	AuditTargetSnapshot AuditTargetType = "snapshot"
)

type AuditResult string

const (
	AuditResultSuccess AuditResult = "success"
	AuditResultFailure AuditResult = "failure"
)

// AuditEvent is one link of the hash chain. EventHash covers the chain
// version, sequence, event metadata, payload hash and the previous event
// hash, so any rewrite of history breaks every later link.
type AuditEvent struct {
	ID            string
	Seq           int64
	EventType     AuditEventType
	Payload       any
	PayloadHash   string
	ActorType     AuditActorType
	TargetType    AuditTargetType
	TargetID      string
	Result        AuditResult
	ErrorCode     string
	PrevEventHash string
	EventHash     string
	CreatedAt     time.Time
}
