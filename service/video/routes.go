package video

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/mux"
	"github.com/mentorlink/mentorlink-server/cmd/models"
	"github.com/mentorlink/mentorlink-server/cmd/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Handler receives provider callbacks for finished recordings. The provider
// authenticates with a static bearer token, not a user JWT.
type Handler struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewHandler(db *gorm.DB, logger *logrus.Logger) *Handler {
	return &Handler{db: db, logger: logger}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/video/webhook/recording", h.HandleRecording).Methods("POST")
}

func (h *Handler) HandleRecording(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	expected := os.Getenv("VIDEO_WEBHOOK_TOKEN")
	if expected == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var payload struct {
		MeetingRef    string `json:"meeting_ref"`
		RecordingURL  string `json:"recording_url"`
		TranscriptURL string `json:"transcript_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.MeetingRef == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	updates := map[string]interface{}{}
	if payload.RecordingURL != "" {
		updates["recording_url"] = payload.RecordingURL
	}
	if payload.TranscriptURL != "" {
		updates["transcript_url"] = payload.TranscriptURL
	}
	if len(updates) == 0 {
		utils.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	res := h.db.Model(&models.Session{}).
		Where("meeting_ref = ?", payload.MeetingRef).
		Updates(updates)
	if res.Error != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	if res.RowsAffected == 0 {
		// Unknown ref; ack so the provider stops retrying.
		utils.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	h.logger.WithField("meeting_ref", payload.MeetingRef).Info("Recording attached to session")
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
