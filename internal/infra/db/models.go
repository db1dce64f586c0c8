package db

import "time"

type VerdictRecordModel struct {
	ID               string    `gorm:"type:uuid;primaryKey"`
	ReceiptID        string    `gorm:"index;not null"`
	ReceiptDigest    string    `gorm:"index;not null"`
	Subject          string    `gorm:"index;not null"`
	Outcome          string    `gorm:"not null"`
	MatchedRuleID    *string   `gorm:"index"`
	ReasonsJSON      []byte    `gorm:"type:jsonb;not null"`
	SignatureChecked bool      `gorm:"not null"`
	PolicyHash       string    `gorm:"index;not null"`
	CreatedAt        time.Time `gorm:"index;not null"`
}

func (VerdictRecordModel) TableName() string { return "verdict_records" }

type TrustedKeyModel struct {
	KeyID      string `gorm:"primaryKey"`
	Algorithm  string `gorm:"not null"`
	PublicKey  []byte `gorm:"type:bytea;not null"`
	Status     string `gorm:"index;not null"`
	Purpose    string `gorm:"not null"`
	ValidFrom  *time.Time
	ValidUntil *time.Time
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (TrustedKeyModel) TableName() string { return "trusted_keys" }

type AuditEventModel struct {
	ID            string  `gorm:"type:uuid;primaryKey"`
	Seq           int64   `gorm:"uniqueIndex;not null"`
	EventType     string  `gorm:"index;not null"`
	PayloadJSON   []byte  `gorm:"type:jsonb;not null"`
	PayloadHash   string  `gorm:"not null"`
	ActorType     string  `gorm:"not null"`
	TargetType    string  `gorm:"not null"`
	TargetID      *string `gorm:"index"`
	Result        string  `gorm:"not null"`
	ErrorCode     *string
	PrevEventHash string    `gorm:"not null"`
	EventHash     string    `gorm:"uniqueIndex;not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (AuditEventModel) TableName() string { return "audit_events" }

// AuditSeqModel is a single-row counter locked FOR UPDATE while a new chain
// link is written.
type AuditSeqModel struct {
	ID  int16 `gorm:"primaryKey"`
	Seq int64 `gorm:"not null"`
}

func (AuditSeqModel) TableName() string { return "audit_seq" }
