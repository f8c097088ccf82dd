package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/mentorlink/mentorlink-server/cmd/models"
	"github.com/mentorlink/mentorlink-server/cmd/utils"
	"github.com/mentorlink/mentorlink-server/service/slot"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Handler struct {
	db     *gorm.DB
	orch   *Orchestrator
	logger *logrus.Logger
}

func NewHandler(db *gorm.DB, orch *Orchestrator, logger *logrus.Logger) *Handler {
	return &Handler{db: db, orch: orch, logger: logger}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/sessions/book", utils.RequireRole(h.BookSession, models.RoleMentee)).Methods("POST")
	router.HandleFunc("/sessions", utils.AuthMiddleware(h.ListSessions)).Methods("GET")
	router.HandleFunc("/sessions/{id}", utils.AuthMiddleware(h.GetSession)).Methods("GET")
	router.HandleFunc("/sessions/{id}/cancel", utils.AuthMiddleware(h.CancelSession)).Methods("POST")
	router.HandleFunc("/sessions/{id}/join", utils.AuthMiddleware(h.JoinSession)).Methods("POST")
	router.HandleFunc("/sessions/{id}/complete", utils.AuthMiddleware(h.CompleteSession)).Methods("POST")
}

func (h *Handler) BookSession(w http.ResponseWriter, r *http.Request) {
	menteeID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	var req BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.SlotID == 0 {
		http.Error(w, "slot_id is required", http.StatusBadRequest)
		return
	}

	s, intent, err := h.orch.Book(menteeID, req)
	if err != nil {
		h.writeBookingError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"session": s,
		"payment": intent,
	})
}

func (h *Handler) writeBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, slot.ErrNotFound):
		http.Error(w, "Slot not found", http.StatusNotFound)
	case errors.Is(err, slot.ErrConflict):
		http.Error(w, "Slot is already booked", http.StatusConflict)
	case errors.Is(err, slot.ErrTooSoon):
		http.Error(w, "Slot starts too soon to book", http.StatusBadRequest)
	case errors.Is(err, slot.ErrMenteeOverlap):
		http.Error(w, "You already have a session in this time window", http.StatusConflict)
	case errors.Is(err, ErrForbidden):
		http.Error(w, "Mentors cannot book their own slots", http.StatusForbidden)
	case errors.Is(err, ErrExternalService):
		http.Error(w, "Payment provider unavailable", http.StatusBadGateway)
	default:
		h.logger.WithError(err).Error("Booking failed")
		http.Error(w, "Error booking session", http.StatusInternalServerError)
	}
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	actor, sessionID, ok := h.requireActor(w, r)
	if !ok {
		return
	}

	var s models.Session
	err := h.db.Preload("Mentor").Preload("Mentee").First(&s, sessionID).Error
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	if actor.Role != models.RoleAdmin && actor.ID != s.MenteeID && actor.ID != s.MentorID {
		http.Error(w, "Not a participant in this session", http.StatusForbidden)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, s)
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}
	role, _ := utils.GetRoleFromContext(r)

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize := 20

	query := h.db.Model(&models.Session{})
	switch role {
	case models.RoleAdmin:
		// Admins see everything.
	case models.RoleMentor:
		query = query.Where("mentor_id = ?", userID)
	default:
		query = query.Where("mentee_id = ?", userID)
	}

	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if from := r.URL.Query().Get("from"); from != "" {
		query = query.Where("start_time >= ?", from)
	}
	if to := r.URL.Query().Get("to"); to != "" {
		query = query.Where("start_time <= ?", to)
	}

	var total int64
	query.Count(&total)

	var sessions []models.Session
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).
		Order("start_time DESC").Find(&sessions).Error; err != nil {
		http.Error(w, "Error retrieving sessions", http.StatusInternalServerError)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"sessions":    sessions,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
	})
}

func (h *Handler) CancelSession(w http.ResponseWriter, r *http.Request) {
	actor, sessionID, ok := h.requireActor(w, r)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	s, err := h.orch.Cancel(actor, sessionID, req.Reason)
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, s)
}

func (h *Handler) JoinSession(w http.ResponseWriter, r *http.Request) {
	actor, sessionID, ok := h.requireActor(w, r)
	if !ok {
		return
	}

	s, err := h.orch.Join(actor, sessionID)
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"session":  s,
		"join_url": s.JoinURL,
	})
}

func (h *Handler) CompleteSession(w http.ResponseWriter, r *http.Request) {
	actor, sessionID, ok := h.requireActor(w, r)
	if !ok {
		return
	}

	s, err := h.orch.Complete(actor, sessionID)
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, s)
}

func (h *Handler) writeLifecycleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound), errors.Is(err, ErrNotFound):
		http.Error(w, "Session not found", http.StatusNotFound)
	case errors.Is(err, ErrForbidden):
		http.Error(w, "Not allowed for this session", http.StatusForbidden)
	case errors.Is(err, ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.WithError(err).Error("Session operation failed")
		http.Error(w, "Error updating session", http.StatusInternalServerError)
	}
}

// requireActor pulls the authenticated actor and the {id} path variable.
func (h *Handler) requireActor(w http.ResponseWriter, r *http.Request) (Actor, uint, bool) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return Actor{}, 0, false
	}
	role, err := utils.GetRoleFromContext(r)
	if err != nil {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return Actor{}, 0, false
	}
	sessionID, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return Actor{}, 0, false
	}
	return Actor{ID: userID, Role: role}, uint(sessionID), true
}
