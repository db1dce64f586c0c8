package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/codebatai/pf-verify/internal/domain"
	"github.com/codebatai/pf-verify/internal/usecase"
)

type VerdictRepository struct {
	db *gorm.DB
}

func NewVerdictRepository(db *gorm.DB) *VerdictRepository {
	return &VerdictRepository{db: db}
}

func (r *VerdictRepository) Save(ctx context.Context, rec usecase.VerdictRecord) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	reasons := rec.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	reasonsJSON, err := json.Marshal(reasons)
	if err != nil {
		return fmt.Errorf("encode reasons: %w", err)
	}
	model := VerdictRecordModel{
		ID:               rec.ID,
		ReceiptID:        rec.ReceiptID,
		ReceiptDigest:    rec.ReceiptDigest,
		Subject:          rec.Subject,
		Outcome:          string(rec.Outcome),
		MatchedRuleID:    stringPtrIfNotEmpty(rec.MatchedRuleID),
		ReasonsJSON:      reasonsJSON,
		SignatureChecked: rec.SignatureChecked,
		PolicyHash:       rec.PolicyHash,
		CreatedAt:        rec.CreatedAt.UTC(),
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *VerdictRepository) GetByID(ctx context.Context, id string) (*usecase.VerdictRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model VerdictRecordModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	var reasons []string
	if err := json.Unmarshal(model.ReasonsJSON, &reasons); err != nil {
		return nil, fmt.Errorf("decode reasons: %w", err)
	}
	return &usecase.VerdictRecord{
		ID:               model.ID,
		ReceiptID:        model.ReceiptID,
		ReceiptDigest:    model.ReceiptDigest,
		Subject:          model.Subject,
		Outcome:          domain.Outcome(model.Outcome),
		MatchedRuleID:    stringValue(model.MatchedRuleID),
		Reasons:          reasons,
		SignatureChecked: model.SignatureChecked,
		PolicyHash:       model.PolicyHash,
		CreatedAt:        model.CreatedAt.UTC(),
	}, nil
}
