// Package auth turns the session token issued at login into a model.Identity.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/psds-microservice/onboarding-service/internal/model"
)

var (
	ErrMissingToken = errors.New("session token missing")
	ErrInvalidToken = errors.New("session token invalid")
)

const issuer = "onboarding-service"

// Claims is the session payload: user id, display name and roles.
type Claims struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

type SessionManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSessionManager(secret string, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &SessionManager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for id. Used by the login collaborator and the token
// command.
func (m *SessionManager) Issue(id model.Identity) (string, error) {
	now := m.now()
	roles := make([]string, 0, len(id.Roles))
	for _, r := range id.Roles {
		roles = append(roles, string(r))
	}
	claims := Claims{
		Name:  id.DisplayName,
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatInt(id.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Parse validates the token and returns the caller identity. Unknown role
// labels are dropped.
func (m *SessionManager) Parse(token string) (model.Identity, error) {
	if token == "" {
		return model.Identity{}, ErrMissingToken
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return model.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return model.Identity{}, fmt.Errorf("%w: bad subject %q", ErrInvalidToken, claims.Subject)
	}
	id := model.Identity{UserID: userID, DisplayName: claims.Name}
	for _, r := range claims.Roles {
		switch model.Role(r) {
		case model.RoleRequester, model.RoleApprover:
			id.Roles = append(id.Roles, model.Role(r))
		}
	}
	if id.DisplayName == "" {
		id.DisplayName = "Unknown"
	}
	return id, nil
}
