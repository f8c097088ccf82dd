package user

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"github.com/mentorlink/mentorlink-server/cmd/models"
	"github.com/mentorlink/mentorlink-server/cmd/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const tokenLifetime = 24 * time.Hour

type Handler struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewHandler(db *gorm.DB, logger *logrus.Logger) *Handler {
	return &Handler{db: db, logger: logger}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/register", h.HandleRegister).Methods("POST")
	router.HandleFunc("/auth/login", h.HandleLogin).Methods("POST")
	router.HandleFunc("/users/me", utils.AuthMiddleware(h.GetMe)).Methods("GET")
	router.HandleFunc("/mentors", h.GetMentors).Methods("GET")
	router.HandleFunc("/mentors/{mentorId}", h.GetMentor).Methods("GET")
	router.HandleFunc("/mentors/{mentorId}/verify", utils.RequireRole(h.VerifyMentor, models.RoleAdmin)).Methods("POST")
}

type registerRequest struct {
	FullName  string      `json:"full_name"`
	Email     string      `json:"email"`
	Password  string      `json:"password"`
	Role      models.Role `json:"role"`
	Phone     string      `json:"phone"`
	Expertise string      `json:"expertise"`
	Bio       string      `json:"bio"`
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" || req.FullName == "" {
		http.Error(w, "full_name, email and password are required", http.StatusBadRequest)
		return
	}
	if req.Role == "" {
		req.Role = models.RoleMentee
	}
	// Admin accounts are provisioned out of band.
	if req.Role != models.RoleMentee && req.Role != models.RoleMentor {
		http.Error(w, "Role must be mentee or mentor", http.StatusBadRequest)
		return
	}

	var existing models.User
	if err := h.db.Where("email = ?", req.Email).First(&existing).Error; err == nil {
		http.Error(w, "Email already registered", http.StatusConflict)
		return
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "Error processing password", http.StatusInternalServerError)
		return
	}

	user := models.User{
		FullName:     req.FullName,
		Email:        req.Email,
		PasswordHash: string(passwordHash),
		Role:         req.Role,
		Phone:        req.Phone,
	}

	tx := h.db.Begin()
	if tx.Error != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	defer tx.Rollback()

	if err := tx.Create(&user).Error; err != nil {
		http.Error(w, "Error creating user", http.StatusInternalServerError)
		return
	}
	if req.Role == models.RoleMentor {
		mentor := models.Mentor{
			UserID:    user.ID,
			Expertise: req.Expertise,
			Bio:       req.Bio,
		}
		if err := tx.Create(&mentor).Error; err != nil {
			http.Error(w, "Error creating mentor profile", http.StatusInternalServerError)
			return
		}
	}
	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	token, err := generateJWT(user.ID, user.Role)
	if err != nil {
		http.Error(w, "Error generating token", http.StatusInternalServerError)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"user_id": user.ID,
		"role":    user.Role,
	}).Info("User registered")

	utils.RespondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"user":  user,
		"token": token,
	})
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var user models.User
	if err := h.db.Where("email = ?", req.Email).First(&user).Error; err != nil {
		http.Error(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		http.Error(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}

	token, err := generateJWT(user.ID, user.Role)
	if err != nil {
		http.Error(w, "Error generating token", http.StatusInternalServerError)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"user":  user,
		"token": token,
	})
}

func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	var user models.User
	if err := h.db.Preload("Mentor").First(&user, userID).Error; err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, user)
}

func (h *Handler) GetMentors(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize := 20

	query := h.db.Model(&models.User{}).Where("role = ?", models.RoleMentor)
	if expertise := r.URL.Query().Get("expertise"); expertise != "" {
		query = query.Joins("JOIN mentors ON mentors.user_id = users.id").
			Where("mentors.expertise ILIKE ?", "%"+expertise+"%")
	}

	var total int64
	query.Count(&total)

	var mentors []models.User
	if err := query.Preload("Mentor").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Order("full_name ASC").Find(&mentors).Error; err != nil {
		http.Error(w, "Error retrieving mentors", http.StatusInternalServerError)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"mentors":     mentors,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
	})
}

func (h *Handler) GetMentor(w http.ResponseWriter, r *http.Request) {
	mentorID, err := strconv.ParseUint(mux.Vars(r)["mentorId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid mentor ID", http.StatusBadRequest)
		return
	}

	var user models.User
	err = h.db.Preload("Mentor").
		Where("id = ? AND role = ?", mentorID, models.RoleMentor).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "Mentor not found", http.StatusNotFound)
		} else {
			http.Error(w, "Error retrieving mentor", http.StatusInternalServerError)
		}
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, user)
}

func (h *Handler) VerifyMentor(w http.ResponseWriter, r *http.Request) {
	mentorID, err := strconv.ParseUint(mux.Vars(r)["mentorId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid mentor ID", http.StatusBadRequest)
		return
	}

	res := h.db.Model(&models.Mentor{}).
		Where("user_id = ?", mentorID).
		Update("verified", true)
	if res.Error != nil {
		http.Error(w, "Error verifying mentor", http.StatusInternalServerError)
		return
	}
	if res.RowsAffected == 0 {
		http.Error(w, "Mentor not found", http.StatusNotFound)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{
		"message": "Mentor verified successfully",
	})
}

func generateJWT(userID uint, role models.Role) (string, error) {
	claims := utils.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenLifetime)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(os.Getenv("SECRET_KEY")))
}
