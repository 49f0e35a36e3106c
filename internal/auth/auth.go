package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rmitchellscott/tankobon/internal/config"
	"github.com/rmitchellscott/tankobon/internal/logging"
	"golang.org/x/crypto/bcrypt"
)

const (
	cookieName = "auth_token"
	sessionTTL = 24 * time.Hour
)

// Config holds the credentials accepted by the ingest API.
type Config struct {
	APIKey        string
	Username      string
	Password      string
	JWTSecret     []byte
	AllowInsecure bool // send the session cookie without the Secure flag
}

// ConfigFromEnv reads API_KEY, AUTH_USERNAME, AUTH_PASSWORD, JWT_SECRET and
// ALLOW_INSECURE. A random JWT secret is generated when none is set.
func ConfigFromEnv() Config {
	secret := []byte(config.Get("JWT_SECRET", ""))
	if len(secret) == 0 {
		secret = make([]byte, 32)
		rand.Read(secret)
	}
	return Config{
		APIKey:        config.Get("API_KEY", ""),
		Username:      config.Get("AUTH_USERNAME", ""),
		Password:      config.Get("AUTH_PASSWORD", ""),
		JWTSecret:     secret,
		AllowInsecure: config.GetBool("ALLOW_INSECURE", false),
	}
}

// Authenticator guards routes with an API key or a JWT session cookie.
type Authenticator struct {
	cfg          Config
	loginLimiter *RateLimiter
	now          func() time.Time
}

func New(cfg Config) *Authenticator {
	return &Authenticator{
		cfg:          cfg,
		loginLimiter: NewRateLimiter(5, 5),
		now:          time.Now,
	}
}

// Enabled reports whether any credential is configured. With none, every
// request is allowed.
func (a *Authenticator) Enabled() bool {
	return a.cfg.APIKey != "" || a.webAuthEnabled()
}

func (a *Authenticator) webAuthEnabled() bool {
	return a.cfg.Username != "" && a.cfg.Password != ""
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (a *Authenticator) LoginHandler(c *gin.Context) {
	if !a.loginLimiter.Allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many login attempts"})
		return
	}

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErrorMessage(err)})
		return
	}

	if !a.webAuthEnabled() {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login is not configured"})
		return
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(a.cfg.Username)) == 1
	passOK := passwordMatches(a.cfg.Password, req.Password)
	if !userOK || !passOK {
		logging.Logf("[AUTH] Failed login for %q from %s", req.Username, c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	tokenString, err := a.issueToken(req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(cookieName, tokenString, int(sessionTTL.Seconds()), "/", "", !a.cfg.AllowInsecure, true)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// passwordMatches accepts AUTH_PASSWORD either as plain text or as a bcrypt
// hash ("$2a$...", "$2b$...", "$2y$...").
func passwordMatches(stored, given string) bool {
	if strings.HasPrefix(stored, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(given)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(given), []byte(stored)) == 1
}

func (a *Authenticator) LogoutHandler(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(cookieName, "", -1, "/", "", !a.cfg.AllowInsecure, true)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *Authenticator) issueToken(username string) (string, error) {
	now := a.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": username,
		"exp":      now.Add(sessionTTL).Unix(),
		"iat":      now.Unix(),
	})
	return token.SignedString(a.cfg.JWTSecret)
}

func (a *Authenticator) validToken(tokenString string) bool {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.cfg.JWTSecret, nil
	}, jwt.WithTimeFunc(a.now))
	return err == nil && token.Valid
}

// isValidApiKey checks the Authorization bearer token and X-API-Key header.
func (a *Authenticator) isValidApiKey(c *gin.Context) bool {
	if a.cfg.APIKey == "" {
		return false
	}
	if authHeader := c.GetHeader("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(a.cfg.APIKey)) == 1 {
			return true
		}
	}
	if apiKey := c.GetHeader("X-API-Key"); apiKey != "" {
		return subtle.ConstantTimeCompare([]byte(apiKey), []byte(a.cfg.APIKey)) == 1
	}
	return false
}

// Middleware accepts either a valid API key or a valid session cookie.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() || a.isValidApiKey(c) {
			c.Next()
			return
		}

		tokenString, err := c.Cookie(cookieName)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Authentication required"})
			return
		}
		if !a.validToken(tokenString) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Invalid or expired session"})
			return
		}
		c.Next()
	}
}

// CheckHandler reports whether the caller is authenticated.
func (a *Authenticator) CheckHandler(c *gin.Context) {
	if !a.Enabled() || a.isValidApiKey(c) {
		c.JSON(http.StatusOK, gin.H{"authenticated": true})
		return
	}
	tokenString, err := c.Cookie(cookieName)
	c.JSON(http.StatusOK, gin.H{"authenticated": err == nil && a.validToken(tokenString)})
}
