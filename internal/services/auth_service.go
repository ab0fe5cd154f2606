package services

import (
	cryptorand "crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lokanetra/backend/internal/models"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"
)

// AuthService handles phone-number OTP login. OTP codes live in Redis as
// argon2 hashes with a short TTL; verified logins get an HS256 JWT. The
// first successful login for a phone number creates the user and its wallet
// in one database transaction.
type AuthService struct {
	db        *sql.DB
	redis     *redis.Client
	validator *ValidationHelper
}

// SendOTPRequest represents the OTP issuance payload
type SendOTPRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required,e164" example:"+2348012345678"` // Phone number to authenticate
}

// VerifyOTPRequest represents the OTP verification payload
type VerifyOTPRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required,e164" example:"+2348012345678"` // Phone number being verified
	OTP         string `json:"otp" validate:"required,len=6" example:"482913"`                 // One-time code from send-otp
}

// AuthResponse represents a successful login
type AuthResponse struct {
	Access string      `json:"access"` // JWT bearer token
	User   models.User `json:"user"`   // Authenticated user
}

func NewAuthService(db *sql.DB, redisClient *redis.Client) *AuthService {
	viper.SetDefault("otp.ttl", 5*time.Minute)
	return &AuthService{
		db:        db,
		redis:     redisClient,
		validator: NewValidationHelper(),
	}
}

// SendOTP issues a one-time code for a phone number. The code is returned in
// the response body in place of SMS delivery.
func (s *AuthService) SendOTP(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] OTP request from IP: %s", r.RemoteAddr)

	var req SendOTPRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		log.Printf("[AUTH] OTP request failed - invalid body: %v", err)
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		log.Printf("[AUTH] OTP request validation failed: %v", err)
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if s.redis == nil {
		SendErrorResponse(w, "OTP service unavailable", http.StatusServiceUnavailable, nil)
		return
	}

	code, err := generateOTP()
	if err != nil {
		log.Printf("[AUTH] OTP generation failed: %v", err)
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	hashed, err := hashOTP(code)
	if err != nil {
		log.Printf("[AUTH] OTP hashing failed: %v", err)
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	key := fmt.Sprintf("otp:%s", req.PhoneNumber)
	if err := s.redis.Set(r.Context(), key, hashed, viper.GetDuration("otp.ttl")).Err(); err != nil {
		log.Printf("[AUTH] Failed to store OTP for %s: %v", req.PhoneNumber, err)
		SendErrorResponse(w, "Failed to generate OTP", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] OTP issued for phone: %s", req.PhoneNumber)
	SendJSONResponse(w, http.StatusCreated, map[string]string{
		"phone_number": req.PhoneNumber,
		"otp":          code,
	})
}

// VerifyOTP checks the submitted code and logs the caller in, creating the
// user and wallet on first login.
func (s *AuthService) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] OTP verification from IP: %s", r.RemoteAddr)

	var req VerifyOTPRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		log.Printf("[AUTH] OTP verification failed - invalid body: %v", err)
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		log.Printf("[AUTH] OTP verification validation failed: %v", err)
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if s.redis == nil {
		SendErrorResponse(w, "OTP service unavailable", http.StatusServiceUnavailable, nil)
		return
	}

	key := fmt.Sprintf("otp:%s", req.PhoneNumber)
	storedHash, err := s.redis.Get(r.Context(), key).Result()
	if err != nil {
		log.Printf("[AUTH] OTP not found or expired for %s", req.PhoneNumber)
		SendErrorResponse(w, "Invalid or expired OTP", http.StatusBadRequest, nil)
		return
	}

	if !verifyOTP(req.OTP, storedHash) {
		log.Printf("[AUTH] Invalid OTP for %s", req.PhoneNumber)
		SendErrorResponse(w, "Invalid or expired OTP", http.StatusBadRequest, nil)
		return
	}

	// Single use.
	s.redis.Del(r.Context(), key)

	user, err := s.findOrCreateUser(req.PhoneNumber)
	if err != nil {
		log.Printf("[AUTH] Login failed for %s: %v", req.PhoneNumber, err)
		SendErrorResponse(w, "Failed to log in", http.StatusInternalServerError, nil)
		return
	}

	token, err := generateJWT(user.ID, user.IsAdmin)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for user %d: %v", user.ID, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Login successful for user %d (phone: %s)", user.ID, req.PhoneNumber)
	SendJSONResponse(w, http.StatusOK, AuthResponse{Access: token, User: *user})
}

// Logout blacklists the caller's token for its remaining lifetime.
func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	if token != "" && len(token) > 7 {
		token = token[7:] // Remove "Bearer " prefix

		if s.redis != nil {
			key := fmt.Sprintf("blacklist:%s", token)
			expiry := time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour
			if err := s.redis.Set(r.Context(), key, "1", expiry).Err(); err != nil {
				log.Printf("[AUTH] Failed to blacklist token: %v", err)
			}
		}
	}

	SendJSONResponse(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

// AdminListUsers returns all users ordered by id.
func (s *AuthService) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.QueryContext(r.Context(), `
		SELECT id, username, COALESCE(phone_number, ''), is_admin, created_at
		FROM users
		ORDER BY id`)
	if err != nil {
		log.Printf("[AUTH] User listing failed: %v", err)
		SendErrorResponse(w, "Failed to list users", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.PhoneNumber, &u.IsAdmin, &u.CreatedAt); err != nil {
			log.Printf("[AUTH] User row scan failed: %v", err)
			SendErrorResponse(w, "Failed to list users", http.StatusInternalServerError, nil)
			return
		}
		users = append(users, u)
	}

	SendJSONResponse(w, http.StatusOK, users)
}

// findOrCreateUser resolves the phone to an existing user or creates the
// user together with a zero-balance wallet, atomically.
func (s *AuthService) findOrCreateUser(phone string) (*models.User, error) {
	var user models.User
	err := s.db.QueryRow(`
		SELECT id, username, phone_number, is_admin, created_at
		FROM users
		WHERE phone_number = $1`, phone).
		Scan(&user.ID, &user.Username, &user.PhoneNumber, &user.IsAdmin, &user.CreatedAt)
	if err == nil {
		return &user, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback()

	username := fmt.Sprintf("user_%s", phone)
	err = tx.QueryRow(`
		INSERT INTO users (username, phone_number)
		VALUES ($1, $2)
		RETURNING id, created_at`, username, phone).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("user creation failed: %w", err)
	}

	// Exactly one wallet per user, created alongside it.
	_, err = tx.Exec(`
		INSERT INTO wallets (user_id, balance, version, updated_at)
		VALUES ($1, 0, 1, NOW())`, user.ID)
	if err != nil {
		return nil, fmt.Errorf("wallet creation failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	user.Username = username
	user.PhoneNumber = phone
	log.Printf("[AUTH] User created - ID: %d, phone: %s", user.ID, phone)
	return &user, nil
}

func generateJWT(userID int64, isAdmin bool) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  userID,
		"is_admin": isAdmin,
		"exp":      time.Now().Add(time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour).Unix(),
	})

	return token.SignedString([]byte(viper.GetString("jwt.secret_key")))
}

func generateOTP() (string, error) {
	b := make([]byte, 4)
	if _, err := cryptorand.Read(b); err != nil {
		return "", err
	}
	n := int(b[0])<<24 | int(b[1])<<16 | int(b[2])<<8 | int(b[3])
	return fmt.Sprintf("%06d", n%1000000), nil
}

// hashOTP stores codes at rest as salted argon2id digests so a leaked Redis
// snapshot does not expose live codes.
func hashOTP(code string) (string, error) {
	salt := make([]byte, viper.GetInt("argon2.salt_length"))
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(code), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func verifyOTP(code, hashedCode string) bool {
	parts := strings.Split(hashedCode, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computedHash := argon2.IDKey([]byte(code), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return subtle.ConstantTimeCompare(hash, computedHash) == 1
}
