package vcard

import (
	"context"
	"net/http"
	"strconv"

	apperrors "github.com/frahmantamala/tagfinder/internal"
	"github.com/frahmantamala/tagfinder/internal/core/datamodel/vcard"
	"github.com/frahmantamala/tagfinder/internal/transport"
	"github.com/go-chi/chi"
)

type ServiceAPI interface {
	PublicCard(ctx context.Context, id int64) (*vcard.VCard, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(base *transport.BaseHandler, service ServiceAPI) *Handler {
	return &Handler{BaseHandler: base, Service: service}
}

// GetPublic handles GET /api/v1/v-cards/{id}
func (h *Handler) GetPublic(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.HandleError(w, apperrors.NewValidationError("invalid vcard id", apperrors.ErrCodeInvalidCard))
		return
	}

	card, err := h.Service.PublicCard(r.Context(), id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, ToPublicView(card))
}
