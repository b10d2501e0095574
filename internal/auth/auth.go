package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/lexscholar/lexscholar/internal/store"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const UserContextKey ContextKey = "user"

// TokenTTL is how long issued sessions stay valid.
const TokenTTL = 24 * time.Hour

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid token")
)

// Identity is the authenticated principal attached to requests.
type Identity struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
}

// Claims is the JWT payload.
type Claims struct {
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
	jwt.RegisteredClaims
}

// Session is what sign-in and sign-up hand back to the client.
type Session struct {
	User  Identity `json:"user"`
	Token string   `json:"token"`
}

// Authenticator issues and validates sessions against the user table.
// It is plain dependency-injected state, not a package singleton.
type Authenticator struct {
	secret  []byte
	store   store.DocumentStore
	enabled bool
}

// New creates an authenticator. With enabled=false the middleware
// passes everything through under an anonymous identity, which keeps
// local development credential-free.
func New(jwtSecret string, st store.DocumentStore, enabled bool) *Authenticator {
	return &Authenticator{
		secret:  []byte(jwtSecret),
		store:   st,
		enabled: enabled,
	}
}

// Enabled reports whether authentication is enforced.
func (a *Authenticator) Enabled() bool { return a.enabled }

// SignUp registers a new account and returns a live session.
func (a *Authenticator) SignUp(ctx context.Context, email, password, fullName string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return Session{}, errors.New("a valid email is required")
	}
	if len(password) < 8 {
		return Session{}, errors.New("password must be at least 8 characters")
	}

	if _, exists, err := a.store.GetUserByEmail(ctx, email); err != nil {
		return Session{}, err
	} else if exists {
		return Session{}, errors.New("an account with this email already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Session{}, err
	}

	u, err := a.store.CreateUser(ctx, email, string(hash), fullName)
	if err != nil {
		return Session{}, err
	}
	return a.sessionFor(u)
}

// SignIn checks credentials and returns a live session.
func (a *Authenticator) SignIn(ctx context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	u, found, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return Session{}, err
	}
	if !found {
		return Session{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return Session{}, ErrInvalidCredentials
	}
	return a.sessionFor(u)
}

func (a *Authenticator) sessionFor(u store.User) (Session, error) {
	id := Identity{UserID: u.ID, Email: u.Email, FullName: u.FullName}
	token, err := a.GenerateJWT(id)
	if err != nil {
		return Session{}, err
	}
	return Session{User: id, Token: token}, nil
}

// GenerateJWT creates a signed session token for the identity.
func (a *Authenticator) GenerateJWT(id Identity) (string, error) {
	claims := Claims{
		Email:    id.Email,
		FullName: id.FullName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(TokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateJWT parses and verifies a session token.
func (a *Authenticator) ValidateJWT(tokenString string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	return Identity{
		UserID:   claims.Subject,
		Email:    claims.Email,
		FullName: claims.FullName,
	}, nil
}

// anonymous is the identity used when auth enforcement is off.
var anonymous = Identity{UserID: "local", Email: "local@localhost"}

// Middleware validates the bearer token (header or cookie) and puts
// the identity in the request context. With auth disabled every
// request runs as the anonymous local identity.
func (a *Authenticator) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled {
			ctx := context.WithValue(r.Context(), UserContextKey, anonymous)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		var tokenString string
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			tokenString = strings.TrimPrefix(h, "Bearer ")
		} else if cookie, err := r.Cookie("auth_token"); err == nil {
			tokenString = cookie.Value
		}

		if tokenString == "" {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		id, err := a.ValidateJWT(tokenString)
		if err != nil {
			http.Error(w, "Invalid authentication token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// FromRequest extracts the authenticated identity from the request
// context.
func FromRequest(r *http.Request) (Identity, bool) {
	id, ok := r.Context().Value(UserContextKey).(Identity)
	return id, ok
}
