package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukerupert/famevents/internal/model"
)

// FamilyReader is the read side of the family store.
type FamilyReader interface {
	GetByID(ctx context.Context, id string) (*model.Family, error)
	ActiveMember(ctx context.Context, familyID, userID string) (*model.FamilyMember, error)
	ListMembers(ctx context.Context, familyID string) ([]model.FamilyMember, error)
}

type FamilyHandler struct {
	families FamilyReader
	logger   *slog.Logger
}

func NewFamilyHandler(families FamilyReader, logger *slog.Logger) *FamilyHandler {
	return &FamilyHandler{families: families, logger: logger.With("component", "family_handler")}
}

type familyResponse struct {
	*model.Family
	Members []model.FamilyMember `json:"members"`
}

// Get returns a family and its active members. Only members may look.
func (h *FamilyHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	familyID := r.PathValue("familyId")

	family, err := h.families.GetByID(r.Context(), familyID)
	if err != nil {
		h.logger.Error("get family", "family_id", familyID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if family == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "family not found"})
		return
	}

	member, err := h.families.ActiveMember(r.Context(), familyID, userID)
	if err != nil {
		h.logger.Error("check membership", "family_id", familyID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if member == nil {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "user is not a member of this family"})
		return
	}

	members, err := h.families.ListMembers(r.Context(), familyID)
	if err != nil {
		h.logger.Error("list members", "family_id", familyID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if members == nil {
		members = []model.FamilyMember{}
	}

	writeJSON(w, http.StatusOK, familyResponse{Family: family, Members: members})
}
