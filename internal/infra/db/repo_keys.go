package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/codebatai/pf-verify/internal/domain"
)

type KeyRepository struct {
	db *gorm.DB
}

func NewKeyRepository(db *gorm.DB) *KeyRepository {
	return &KeyRepository{db: db}
}

func (r *KeyRepository) Upsert(ctx context.Context, key domain.TrustedKey) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if key.KeyID == "" {
		return errors.New("key_id is required")
	}
	now := time.Now().UTC()
	model := TrustedKeyModel{
		KeyID:      key.KeyID,
		Algorithm:  string(key.Algorithm),
		PublicKey:  key.PublicKey,
		Status:     string(key.Status),
		Purpose:    string(key.Purpose),
		ValidFrom:  key.ValidFrom,
		ValidUntil: key.ValidUntil,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if model.Status == "" {
		model.Status = string(domain.KeyStatusActive)
	}
	if model.Purpose == "" {
		model.Purpose = string(domain.KeyPurposeReceipt)
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"algorithm", "public_key", "status", "purpose", "valid_from", "valid_until", "updated_at"}),
	}).Create(&model).Error
}

func (r *KeyRepository) UpdateStatus(ctx context.Context, keyID string, status domain.KeyStatus) error {
	if r.db == nil {
		return errDBUnavailable
	}
	res := r.db.WithContext(ctx).Model(&TrustedKeyModel{}).
		Where("key_id = ?", keyID).
		Updates(map[string]any{"status": string(status), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *KeyRepository) List(ctx context.Context) ([]domain.TrustedKey, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []TrustedKeyModel
	if err := r.db.WithContext(ctx).Order("key_id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.TrustedKey, 0, len(models))
	for _, m := range models {
		out = append(out, domain.TrustedKey{
			KeyID:      m.KeyID,
			Algorithm:  domain.KeyAlgorithm(m.Algorithm),
			PublicKey:  m.PublicKey,
			Status:     domain.KeyStatus(m.Status),
			Purpose:    domain.KeyPurpose(m.Purpose),
			ValidFrom:  m.ValidFrom,
			ValidUntil: m.ValidUntil,
		})
	}
	return out, nil
}
