package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mentorlink/mentorlink-server/cmd/models"
	"github.com/mentorlink/mentorlink-server/cmd/utils"
	"github.com/mentorlink/mentorlink-server/service/session"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// maxWebhookBody bounds webhook payload reads.
const maxWebhookBody = 1 << 20

type Handler struct {
	db         *gorm.DB
	registry   *Registry
	reconciler *Reconciler
	logger     *logrus.Logger
}

func NewHandler(db *gorm.DB, registry *Registry, reconciler *Reconciler, logger *logrus.Logger) *Handler {
	return &Handler{db: db, registry: registry, reconciler: reconciler, logger: logger}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/payments/webhook/{provider}", h.HandleWebhook).Methods("POST")
	router.HandleFunc("/sessions/{sessionId}/payments/retry", utils.AuthMiddleware(h.RetryPayment)).Methods("POST")
	router.HandleFunc("/sessions/{sessionId}/payments", utils.AuthMiddleware(h.ListPayments)).Methods("GET")
}

// HandleWebhook is the single entry point for provider callbacks. Unknown
// references are acknowledged with 200 so the provider stops retrying a
// delivery that can never be applied.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	g, ok := h.registry.Get(provider)
	if !ok {
		http.Error(w, "Unknown payment provider", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Unable to read request body", http.StatusBadRequest)
		return
	}

	err = h.reconciler.HandleWebhook(g, body, r.Header)
	switch {
	case err == nil:
		utils.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, ErrInvalidSignature):
		http.Error(w, "Invalid signature", http.StatusBadRequest)
	case errors.Is(err, ErrUnknownReference):
		utils.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	default:
		h.logger.WithError(err).WithField("provider", provider).Error("Webhook processing failed")
		http.Error(w, "Webhook processing failed", http.StatusInternalServerError)
	}
}

// RetryPayment abandons the current attempt on a still-pending session and
// opens a fresh intent, optionally on a different provider. The old attempt
// is failed first so its late capture can no longer confirm the session.
func (h *Handler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}
	sessionID, err := strconv.ParseUint(mux.Vars(r)["sessionId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Provider string `json:"provider"`
	}
	if r.Body != nil {
		// Body is optional; an empty body retries on the same provider.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

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
	if s.MenteeID != userID {
		http.Error(w, "Only the booking mentee can retry payment", http.StatusForbidden)
		return
	}
	if s.Status != models.SessionPending {
		http.Error(w, "Session is no longer awaiting payment", http.StatusConflict)
		return
	}
	if time.Now().After(s.StartTime) {
		http.Error(w, "Session start time has passed", http.StatusConflict)
		return
	}

	var prev models.Payment
	if err := tx.Where("session_id = ?", s.ID).Order("id DESC").First(&prev).Error; err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	if prev.Status == models.PaymentCaptured || prev.Status == models.PaymentAuthorized {
		http.Error(w, "Payment already in flight", http.StatusConflict)
		return
	}

	providerName := req.Provider
	if providerName == "" {
		providerName = prev.Provider
	}
	g, ok := h.registry.Get(providerName)
	if !ok {
		http.Error(w, "Unknown payment provider", http.StatusBadRequest)
		return
	}

	if err := tx.Model(&models.Payment{}).
		Where("session_id = ? AND status = ?", s.ID, models.PaymentCreated).
		Update("status", models.PaymentFailed).Error; err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	reference := fmt.Sprintf("APT-%s", uuid.New().String())
	payment := models.Payment{
		SessionID: s.ID,
		Provider:  g.Name(),
		Reference: reference,
		Amount:    s.Price,
		Currency:  prev.Currency,
		Status:    models.PaymentCreated,
	}
	if err := tx.Create(&payment).Error; err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	// The provider call runs after commit so its latency never pins the
	// session row lock; a failed call fails the fresh attempt the same way
	// the unpaid sweep would.
	intentID, err := g.CreateIntent(payment.Amount, payment.Currency, reference, map[string]string{
		"session_id": strconv.FormatUint(uint64(s.ID), 10),
	})
	if err != nil {
		h.logger.WithError(err).WithField("session_id", s.ID).Error("Payment intent creation failed")
		if uerr := h.db.Model(&models.Payment{}).Where("id = ?", payment.ID).
			Update("status", models.PaymentFailed).Error; uerr != nil {
			h.logger.WithError(uerr).WithField("payment_id", payment.ID).Error("Failed to fail payment attempt")
		}
		http.Error(w, "Payment provider unavailable", http.StatusBadGateway)
		return
	}
	if err := h.db.Model(&models.Payment{}).Where("id = ?", payment.ID).
		Update("intent_id", intentID).Error; err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	utils.RespondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"provider":  payment.Provider,
		"reference": reference,
		"intent_id": intentID,
		"amount":    payment.Amount,
		"currency":  payment.Currency,
	})
}

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}
	sessionID, err := strconv.ParseUint(mux.Vars(r)["sessionId"], 10, 64)
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
	if userID != s.MenteeID && userID != s.MentorID && role != models.RoleAdmin {
		http.Error(w, "Not a participant in this session", http.StatusForbidden)
		return
	}

	var payments []models.Payment
	if err := h.db.Where("session_id = ?", sessionID).Order("id ASC").Find(&payments).Error; err != nil {
		http.Error(w, "Error retrieving payments", http.StatusInternalServerError)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"payments": payments})
}
