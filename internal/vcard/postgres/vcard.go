package postgres

import (
	"context"
	"errors"

	apperrors "github.com/frahmantamala/tagfinder/internal"
	"github.com/frahmantamala/tagfinder/internal/core/datamodel/vcard"
	"gorm.io/gorm"
)

type VCardRepository struct {
	db *gorm.DB
}

func NewVCardRepository(db *gorm.DB) *VCardRepository {
	return &VCardRepository{db: db}
}

func (r *VCardRepository) GetByID(ctx context.Context, id int64) (*vcard.VCard, error) {
	var c vcard.VCard
	err := r.db.WithContext(ctx).First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrCardNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *VCardRepository) Create(ctx context.Context, c *vcard.VCard) error {
	return r.db.WithContext(ctx).Create(c).Error
}
