package vcard

import (
	"context"
	"errors"

	apperrors "github.com/frahmantamala/tagfinder/internal"
	"github.com/frahmantamala/tagfinder/internal/core/datamodel/vcard"
)

// RepositoryAPI returns apperrors.ErrCardNotFound on a miss.
type RepositoryAPI interface {
	GetByID(ctx context.Context, id int64) (*vcard.VCard, error)
}

type Service struct {
	repo RepositoryAPI
}

func NewService(repo RepositoryAPI) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context, id int64) (*vcard.VCard, error) {
	return s.repo.GetByID(ctx, id)
}

// GetOwned returns ErrCardNotOwned when the card belongs to another user.
func (s *Service) GetOwned(ctx context.Context, userID, id int64) (*vcard.VCard, error) {
	card, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if card.UserID != userID {
		return nil, apperrors.ErrCardNotOwned
	}
	return card, nil
}

// PublicCard returns a card only once it is paid for.
func (s *Service) PublicCard(ctx context.Context, id int64) (*vcard.VCard, error) {
	card, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, apperrors.ErrCardNotFound) {
		return nil, apperrors.ErrCardNotPaid
	}
	if err != nil {
		return nil, err
	}
	if card.PaymentStatus != vcard.PaymentStatusPaid {
		return nil, apperrors.ErrCardNotPaid
	}
	return card, nil
}
