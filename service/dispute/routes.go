package dispute

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/mentorlink/mentorlink-server/cmd/models"
	"github.com/mentorlink/mentorlink-server/cmd/utils"
	"github.com/mentorlink/mentorlink-server/service/jobs"
	"github.com/mentorlink/mentorlink-server/service/session"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Handler struct {
	db     *gorm.DB
	gate   *Gate
	queue  *jobs.Queue
	orch   *session.Orchestrator
	logger *logrus.Logger
}

func NewHandler(db *gorm.DB, gate *Gate, queue *jobs.Queue, orch *session.Orchestrator, logger *logrus.Logger) *Handler {
	return &Handler{db: db, gate: gate, queue: queue, orch: orch, logger: logger}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/sessions/{id}/disputes", utils.RequireRole(h.OpenDispute, models.RoleMentee)).Methods("POST")
	router.HandleFunc("/sessions/{id}/disputes", utils.AuthMiddleware(h.ListDisputes)).Methods("GET")
	router.HandleFunc("/disputes", utils.RequireRole(h.ListAllDisputes, models.RoleAdmin)).Methods("GET")
	router.HandleFunc("/disputes/{id}/resolve", utils.RequireRole(h.ResolveDispute, models.RoleAdmin)).Methods("POST")
}

// OpenDispute files a dispute against a completed session. Only the mentee,
// only inside the dispute window, and only one pending dispute at a time.
func (h *Handler) OpenDispute(w http.ResponseWriter, r *http.Request) {
	menteeID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}
	sessionID, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		http.Error(w, "reason is required", http.StatusBadRequest)
		return
	}

	now := time.Now()

	tx := h.db.Begin()
	if tx.Error != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	defer tx.Rollback()

	s, err := session.LockSession(tx, uint(sessionID))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
		} else {
			http.Error(w, "Database error", http.StatusInternalServerError)
		}
		return
	}
	if s.MenteeID != menteeID {
		http.Error(w, "Only the session's mentee can open a dispute", http.StatusForbidden)
		return
	}
	if s.Status != models.SessionCompleted {
		http.Error(w, "Only completed sessions can be disputed", http.StatusConflict)
		return
	}
	if s.CompletedAt == nil || now.After(s.CompletedAt.Add(session.DisputeWindow)) {
		http.Error(w, "Dispute window has closed", http.StatusConflict)
		return
	}

	pending, err := h.gate.HasPending(tx, s.ID)
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	if pending {
		http.Error(w, "Session already has a pending dispute", http.StatusConflict)
		return
	}

	d := models.SessionDispute{
		SessionID: s.ID,
		MenteeID:  menteeID,
		Reason:    req.Reason,
		Status:    models.DisputePending,
	}
	if err := tx.Create(&d).Error; err != nil {
		http.Error(w, "Error creating dispute", http.StatusInternalServerError)
		return
	}
	if err := tx.Model(&models.Session{}).Where("id = ?", s.ID).
		Update("dispute_id", d.ID).Error; err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"dispute_id": d.ID,
		"session_id": s.ID,
	}).Info("Dispute opened")

	h.orch.Notify(s.MentorID, "dispute.opened", map[string]string{
		"session_id": strconv.FormatUint(uint64(s.ID), 10),
		"dispute_id": strconv.FormatUint(uint64(d.ID), 10),
	})

	utils.RespondWithJSON(w, http.StatusCreated, d)
}

// ResolveDispute settles a pending dispute. A mentee_refund outcome arms a
// full refund; either outcome wakes the payout release job so the holding
// period does not stretch past resolution.
func (h *Handler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	adminID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}
	disputeID, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid dispute ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Outcome models.DisputeOutcome `json:"outcome"`
		Note    string                `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Outcome != models.DisputeOutcomeNoFault && req.Outcome != models.DisputeOutcomeMenteeRefund {
		http.Error(w, "Outcome must be no_fault or mentee_refund", http.StatusBadRequest)
		return
	}

	now := time.Now()

	tx := h.db.Begin()
	if tx.Error != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	defer tx.Rollback()

	var d models.SessionDispute
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&d, disputeID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "Dispute not found", http.StatusNotFound)
		} else {
			http.Error(w, "Database error", http.StatusInternalServerError)
		}
		return
	}
	if d.Status != models.DisputePending {
		http.Error(w, "Dispute already resolved", http.StatusConflict)
		return
	}

	s, err := session.LockSession(tx, d.SessionID)
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	if err := tx.Model(&d).Updates(map[string]interface{}{
		"status":      models.DisputeResolved,
		"outcome":     req.Outcome,
		"resolved_by": adminID,
		"resolved_at": now,
	}).Error; err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	if req.Outcome == models.DisputeOutcomeMenteeRefund {
		if _, err := h.orch.EnqueueRefundTx(tx, s, 1.0, "dispute resolved for mentee", now); err != nil {
			http.Error(w, "Database error", http.StatusInternalServerError)
			return
		}
	}

	// The payout job was parked by the pending dispute; pull it forward so
	// resolution takes effect on the next queue pass.
	key := strconv.FormatUint(uint64(s.ID), 10)
	if err := h.queue.Wake(tx, jobs.TypePayoutRelease, key); err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"dispute_id": d.ID,
		"session_id": s.ID,
		"outcome":    req.Outcome,
	}).Info("Dispute resolved")

	data := map[string]string{
		"session_id": key,
		"outcome":    string(req.Outcome),
	}
	h.orch.Notify(s.MenteeID, "dispute.resolved", data)
	h.orch.Notify(s.MentorID, "dispute.resolved", data)

	utils.RespondWithJSON(w, http.StatusOK, d)
}

func (h *Handler) ListDisputes(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}
	sessionID, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	var s models.Session
	if err := h.db.First(&s, sessionID).Error; err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	role, _ := utils.GetRoleFromContext(r)
	if role != models.RoleAdmin && userID != s.MenteeID && userID != s.MentorID {
		http.Error(w, "Not a participant in this session", http.StatusForbidden)
		return
	}

	var disputes []models.SessionDispute
	if err := h.db.Where("session_id = ?", sessionID).Order("id ASC").Find(&disputes).Error; err != nil {
		http.Error(w, "Error retrieving disputes", http.StatusInternalServerError)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"disputes": disputes})
}

func (h *Handler) ListAllDisputes(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize := 20

	query := h.db.Model(&models.SessionDispute{})
	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	query.Count(&total)

	var disputes []models.SessionDispute
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).
		Order("created_at DESC").Find(&disputes).Error; err != nil {
		http.Error(w, "Error retrieving disputes", http.StatusInternalServerError)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"disputes":    disputes,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
	})
}
