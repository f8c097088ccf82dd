package slot

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/mentorlink/mentorlink-server/cmd/models"
	"github.com/mentorlink/mentorlink-server/cmd/utils"
	"gorm.io/gorm"
)

type SlotHandler struct {
	db    *gorm.DB
	store *Store
}

func NewSlotHandler(db *gorm.DB, store *Store) *SlotHandler {
	return &SlotHandler{db: db, store: store}
}

func (h *SlotHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/mentors/{mentorId}/slots", utils.RequireRole(h.CreateSlot, models.RoleMentor)).Methods("POST")
	router.HandleFunc("/mentors/{mentorId}/slots", h.GetSlots).Methods("GET")
	router.HandleFunc("/mentors/{mentorId}/slots/{id}", utils.RequireRole(h.DeleteSlot, models.RoleMentor, models.RoleAdmin)).Methods("DELETE")
}

func (h *SlotHandler) CreateSlot(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	mentorID, err := strconv.ParseUint(vars["mentorId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid mentor ID", http.StatusBadRequest)
		return
	}

	userID, err := utils.GetUserIDFromContext(r)
	if err != nil || userID != uint(mentorID) {
		http.Error(w, "Mentors can only publish their own slots", http.StatusForbidden)
		return
	}

	var slot models.TimeSlot
	if err := json.NewDecoder(r.Body).Decode(&slot); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if !slot.EndTime.After(slot.StartTime) {
		http.Error(w, "End time must be after start time", http.StatusBadRequest)
		return
	}
	if slot.StartTime.Before(time.Now()) {
		http.Error(w, "Slot must be in the future", http.StatusBadRequest)
		return
	}
	if slot.Price < 0 {
		http.Error(w, "Price must not be negative", http.StatusBadRequest)
		return
	}

	// A mentor's slots never overlap.
	var existing models.TimeSlot
	overlap := h.db.Where("mentor_id = ? AND start_time < ? AND end_time > ?",
		mentorID, slot.EndTime, slot.StartTime).First(&existing)

	if overlap.Error != nil && overlap.Error != gorm.ErrRecordNotFound {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	if overlap.Error == nil {
		http.Error(w, "Slot overlaps with an existing slot", http.StatusConflict)
		return
	}

	slot.MentorID = uint(mentorID)
	slot.IsBooked = false
	slot.SessionID = nil

	if err := h.db.Create(&slot).Error; err != nil {
		http.Error(w, "Error creating slot", http.StatusInternalServerError)
		return
	}

	utils.RespondWithJSON(w, http.StatusCreated, slot)
}

func (h *SlotHandler) GetSlots(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	mentorID, err := strconv.ParseUint(vars["mentorId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid mentor ID", http.StatusBadRequest)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize := 50

	query := h.db.Model(&models.TimeSlot{}).Where("mentor_id = ?", mentorID)

	if r.URL.Query().Get("open") == "true" {
		query = query.Where("is_booked = ? AND start_time > ?", false, time.Now().Add(MinAdvanceBooking))
	}
	if startDate := r.URL.Query().Get("start_date"); startDate != "" {
		query = query.Where("start_time >= ?", startDate)
	}
	if endDate := r.URL.Query().Get("end_date"); endDate != "" {
		query = query.Where("start_time <= ?", endDate)
	}

	var total int64
	query.Count(&total)

	var slots []models.TimeSlot
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).
		Order("start_time ASC").Find(&slots).Error; err != nil {
		http.Error(w, "Error retrieving slots", http.StatusInternalServerError)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"slots":       slots,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
	})
}

func (h *SlotHandler) DeleteSlot(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	mentorID, err := strconv.ParseUint(vars["mentorId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid mentor ID", http.StatusBadRequest)
		return
	}
	slotID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid slot ID", http.StatusBadRequest)
		return
	}

	userID, _ := utils.GetUserIDFromContext(r)
	role, _ := utils.GetRoleFromContext(r)
	if role != models.RoleAdmin && userID != uint(mentorID) {
		http.Error(w, "Mentors can only delete their own slots", http.StatusForbidden)
		return
	}

	// Booked slots are historical records and cannot be deleted.
	result := h.db.Where("id = ? AND mentor_id = ? AND is_booked = ?", slotID, mentorID, false).
		Delete(&models.TimeSlot{})
	if result.Error != nil {
		http.Error(w, "Error deleting slot", http.StatusInternalServerError)
		return
	}
	if result.RowsAffected == 0 {
		http.Error(w, "Slot not found or already booked", http.StatusNotFound)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]string{
		"message": "Slot deleted successfully",
	})
}
