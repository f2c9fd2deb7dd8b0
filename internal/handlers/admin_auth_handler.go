package handlers

import (
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"escrow-backend/internal/config"
)

var (
	adminJWTSecretOnce sync.Once
	adminJWTSecret     []byte
)

// resolveAdminJWTSecret loads the signing secret from ADMIN_JWT_SECRET once.
// The middleware and the login handler must agree on the same secret.
func resolveAdminJWTSecret() []byte {
	adminJWTSecretOnce.Do(func() {
		if s := os.Getenv("ADMIN_JWT_SECRET"); s != "" {
			adminJWTSecret = []byte(s)
			return
		}
		adminJWTSecret = []byte("escrow-admin-jwt-secret-default-change-me")
		logrus.Warn("⚠️ Using default ADMIN_JWT_SECRET, set the environment variable in production")
	})
	return adminJWTSecret
}

// ValidateAdminJWTToken parses and verifies an admin session token.
func ValidateAdminJWTToken(tokenString string) (*AdminJWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AdminJWTClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return resolveAdminJWTSecret(), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*AdminJWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// AdminAuthHandler admin login handler
type AdminAuthHandler struct {
	jwtSecret []byte
	// TOTP secret, read from ADMIN_TOTP_SECRET
	totpSecret string
	// bcrypt hash of the admin password, read from ADMIN_PASSWORD_HASH
	passwordHash string
}

// AdminLoginRequest admin login request
type AdminLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	TOTPCode string `json:"totp_code" binding:"required"`
}

// AdminJWTClaims admin JWT claims
type AdminJWTClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// NewAdminAuthHandler reads admin credentials from the environment
func NewAdminAuthHandler() *AdminAuthHandler {
	totpSecret := os.Getenv("ADMIN_TOTP_SECRET")
	passwordHash := os.Getenv("ADMIN_PASSWORD_HASH")

	if totpSecret == "" || passwordHash == "" {
		logrus.Warn("⚠️ ADMIN_TOTP_SECRET or ADMIN_PASSWORD_HASH not set; admin login will reject all requests")
	}

	return &AdminAuthHandler{
		jwtSecret:    resolveAdminJWTSecret(),
		totpSecret:   totpSecret,
		passwordHash: passwordHash,
	}
}

// AdminLoginHandler verifies password and TOTP code, then issues a session
// token.
// POST /api/admin/login
func (h *AdminAuthHandler) AdminLoginHandler(c *gin.Context) {
	if h.totpSecret == "" || h.passwordHash == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "Admin authentication not configured",
		})
		return
	}

	var req AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(h.passwordHash), []byte(req.Password)); err != nil {
		logrus.WithField("username", req.Username).Warn("Admin login failed - bad password")
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Invalid credentials"})
		return
	}

	if !totp.Validate(req.TOTPCode, h.totpSecret) {
		logrus.WithField("username", req.Username).Warn("Admin login failed - bad TOTP code")
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Invalid credentials"})
		return
	}

	expiry := 24 * time.Hour
	if config.AppConfig != nil {
		expiry = config.AppConfig.Admin.ParsedSessionExpiry()
	}

	claims := AdminJWTClaims{
		Username: req.Username,
		Role:     "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "escrow-backend",
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.jwtSecret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to issue token"})
		return
	}

	logrus.WithField("username", req.Username).Info("Admin login succeeded")
	c.JSON(http.StatusOK, gin.H{"success": true, "token": token})
}
