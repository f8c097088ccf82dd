package payout

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/mentorlink/mentorlink-server/cmd/models"
	"github.com/mentorlink/mentorlink-server/cmd/utils"
	"gorm.io/gorm"
)

type Handler struct {
	db *gorm.DB
}

func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/mentors/{mentorId}/balance", utils.RequireRole(h.GetBalance, models.RoleMentor, models.RoleAdmin)).Methods("GET")
	router.HandleFunc("/mentors/{mentorId}/payouts", utils.RequireRole(h.ListReleases, models.RoleMentor, models.RoleAdmin)).Methods("GET")
	router.HandleFunc("/mentors/{mentorId}/ledger", utils.RequireRole(h.ListLedger, models.RoleMentor, models.RoleAdmin)).Methods("GET")
}

// requireMentor resolves the {mentorId} path variable and checks the caller
// owns it (admins may read any mentor's money state).
func (h *Handler) requireMentor(w http.ResponseWriter, r *http.Request) (uint, bool) {
	mentorID, err := strconv.ParseUint(mux.Vars(r)["mentorId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid mentor ID", http.StatusBadRequest)
		return 0, false
	}
	userID, _ := utils.GetUserIDFromContext(r)
	role, _ := utils.GetRoleFromContext(r)
	if role != models.RoleAdmin && userID != uint(mentorID) {
		http.Error(w, "Mentors can only view their own balance", http.StatusForbidden)
		return 0, false
	}
	return uint(mentorID), true
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	mentorID, ok := h.requireMentor(w, r)
	if !ok {
		return
	}

	var balance models.MentorBalance
	err := h.db.Where("mentor_id = ?", mentorID).First(&balance).Error
	if err == gorm.ErrRecordNotFound {
		// No releases yet; report a zero balance rather than a 404.
		balance = models.MentorBalance{MentorID: mentorID}
	} else if err != nil {
		http.Error(w, "Error retrieving balance", http.StatusInternalServerError)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, balance)
}

func (h *Handler) ListReleases(w http.ResponseWriter, r *http.Request) {
	mentorID, ok := h.requireMentor(w, r)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize := 50

	query := h.db.Model(&models.PayoutRelease{}).Where("mentor_id = ?", mentorID)

	var total int64
	query.Count(&total)

	var releases []models.PayoutRelease
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).
		Order("released_at DESC").Find(&releases).Error; err != nil {
		http.Error(w, "Error retrieving payouts", http.StatusInternalServerError)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"payouts":     releases,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
	})
}

func (h *Handler) ListLedger(w http.ResponseWriter, r *http.Request) {
	mentorID, ok := h.requireMentor(w, r)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize := 50

	query := h.db.Model(&models.BalanceEntry{}).Where("mentor_id = ?", mentorID)

	var total int64
	query.Count(&total)

	var entries []models.BalanceEntry
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).
		Order("created_at DESC").Find(&entries).Error; err != nil {
		http.Error(w, "Error retrieving ledger", http.StatusInternalServerError)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"entries":     entries,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
	})
}
