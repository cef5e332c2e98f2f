package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/mindengage-assess/internal/rbac"
)

const tokenTTL = 8 * time.Hour

var ErrBadToken = errors.New("auth: invalid token")

type AuthService struct {
	hmac []byte
	now  func() time.Time
}

func NewAuthService(secret string) *AuthService {
	return &AuthService{hmac: []byte(secret), now: time.Now}
}

type Claims struct {
	Sub  string `json:"sub"`
	Role string `json:"role"` // student|teacher|admin
	jwt.RegisteredClaims
}

func (a *AuthService) IssueJWT(sub, role string) (string, error) {
	now := a.now()
	claims := &Claims{
		Sub:  sub,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "mindengage-assess",
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(a.hmac)
}

func (a *AuthService) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.hmac, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, errors.Join(ErrBadToken, err)
	}
	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || c.Sub == "" || c.Role == "" {
		return nil, ErrBadToken
	}
	return c, nil
}

// Login holds the credentials accepted by LoginHandler. The admin account is
// checked against a bcrypt hash. When DevLogin is set, students and teachers
// sign in with username == password.
type Login struct {
	AdminUser     string
	AdminPassHash string
	DevLogin      bool
}

func (l Login) check(user, pass, role string) (string, bool) {
	if user == "" {
		return "", false
	}
	if l.AdminUser != "" && user == l.AdminUser {
		if bcrypt.CompareHashAndPassword([]byte(l.AdminPassHash), []byte(pass)) != nil {
			return "", false
		}
		return "admin", true
	}
	if !l.DevLogin || user != pass {
		return "", false
	}
	switch role {
	case "student", "teacher":
		return role, true
	}
	return "", false
}

// POST /auth/login  { "username": "...", "password": "...", "role": "teacher|student" }
func LoginHandler(a *AuthService, l Login) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
			Role     string `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		role, ok := l.check(req.Username, req.Password, req.Role)
		if !ok {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		tok, err := a.IssueJWT(req.Username, role)
		if err != nil {
			http.Error(w, "issue token", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": tok,
			"token_type":   "Bearer",
			"expires_in":   int(tokenTTL / time.Second),
			"role":         role,
		})
	}
}

// JWTMiddleware rejects requests without a valid bearer token and puts the
// subject and role on the request context for rbac checks.
func JWTMiddleware(a *AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				http.Error(w, "missing bearer", http.StatusUnauthorized)
				return
			}
			c, err := a.Parse(strings.TrimPrefix(h, "Bearer "))
			if err != nil {
				http.Error(w, "bad token", http.StatusUnauthorized)
				return
			}
			ctx := rbac.WithSubject(r.Context(), c.Sub)
			ctx = rbac.WithRole(ctx, c.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
