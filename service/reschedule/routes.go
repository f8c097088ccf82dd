package reschedule

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/mentorlink/mentorlink-server/cmd/models"
	"github.com/mentorlink/mentorlink-server/cmd/utils"
	"github.com/mentorlink/mentorlink-server/service/session"
	"github.com/mentorlink/mentorlink-server/service/slot"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Handler struct {
	db     *gorm.DB
	wf     *Workflow
	logger *logrus.Logger
}

func NewHandler(db *gorm.DB, wf *Workflow, logger *logrus.Logger) *Handler {
	return &Handler{db: db, wf: wf, logger: logger}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/sessions/{id}/reschedule", utils.AuthMiddleware(h.RequestReschedule)).Methods("POST")
	router.HandleFunc("/sessions/{id}/reschedule/approve", utils.AuthMiddleware(h.ApproveReschedule)).Methods("POST")
	router.HandleFunc("/sessions/{id}/reschedule/reject", utils.AuthMiddleware(h.RejectReschedule)).Methods("POST")
	router.HandleFunc("/sessions/{id}/reschedules", utils.AuthMiddleware(h.ListReschedules)).Methods("GET")
}

func (h *Handler) RequestReschedule(w http.ResponseWriter, r *http.Request) {
	actor, sessionID, ok := h.requireActor(w, r)
	if !ok {
		return
	}

	var req struct {
		NewSlotID uint   `json:"new_slot_id"`
		Reason    string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.NewSlotID == 0 {
		http.Error(w, "new_slot_id is required", http.StatusBadRequest)
		return
	}

	created, err := h.wf.Request(actor, sessionID, req.NewSlotID, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, created)
}

func (h *Handler) ApproveReschedule(w http.ResponseWriter, r *http.Request) {
	actor, sessionID, ok := h.requireActor(w, r)
	if !ok {
		return
	}

	s, err := h.wf.Approve(actor, sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, s)
}

func (h *Handler) RejectReschedule(w http.ResponseWriter, r *http.Request) {
	actor, sessionID, ok := h.requireActor(w, r)
	if !ok {
		return
	}

	var req struct {
		KeepOriginal *bool `json:"keep_original"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	keep := true
	if req.KeepOriginal != nil {
		keep = *req.KeepOriginal
	}

	s, err := h.wf.Reject(actor, sessionID, keep)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, s)
}

func (h *Handler) ListReschedules(w http.ResponseWriter, r *http.Request) {
	actor, sessionID, ok := h.requireActor(w, r)
	if !ok {
		return
	}

	var s models.Session
	if err := h.db.First(&s, sessionID).Error; err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	if actor.Role != models.RoleAdmin && actor.ID != s.MenteeID && actor.ID != s.MentorID {
		http.Error(w, "Not a participant in this session", http.StatusForbidden)
		return
	}

	var requests []models.RescheduleSession
	if err := h.db.Where("session_id = ?", sessionID).Order("id ASC").Find(&requests).Error; err != nil {
		http.Error(w, "Error retrieving reschedules", http.StatusInternalServerError)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"reschedules": requests})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound), errors.Is(err, slot.ErrNotFound), errors.Is(err, session.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "No pending reschedule for this session", http.StatusNotFound)
	case errors.Is(err, ErrActiveRequest):
		http.Error(w, "Session already has a pending reschedule", http.StatusConflict)
	case errors.Is(err, ErrSlotMismatch):
		http.Error(w, "Proposed slot belongs to another mentor", http.StatusBadRequest)
	case errors.Is(err, ErrNotRequester):
		http.Error(w, "Requester cannot resolve their own proposal", http.StatusForbidden)
	case errors.Is(err, slot.ErrConflict):
		http.Error(w, "Proposed slot is no longer available", http.StatusConflict)
	case errors.Is(err, slot.ErrTooSoon):
		http.Error(w, "Proposed slot is in the past", http.StatusBadRequest)
	case errors.Is(err, session.ErrForbidden):
		http.Error(w, "Not allowed for this session", http.StatusForbidden)
	case errors.Is(err, session.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.WithError(err).Error("Reschedule operation failed")
		http.Error(w, "Error processing reschedule", http.StatusInternalServerError)
	}
}

func (h *Handler) requireActor(w http.ResponseWriter, r *http.Request) (session.Actor, uint, bool) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return session.Actor{}, 0, false
	}
	role, err := utils.GetRoleFromContext(r)
	if err != nil {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return session.Actor{}, 0, false
	}
	sessionID, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return session.Actor{}, 0, false
	}
	return session.Actor{ID: userID, Role: role}, uint(sessionID), true
}
