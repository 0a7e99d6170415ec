package auth

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Account roles. Coaches are the staff accounts; everyone else is an athlete.
const (
	RoleAthlete = "athlete"
	RoleCoach   = "coach"
)

// RoleFor maps the staff flag of an account to its role.
func RoleFor(isStaff bool) string {
	if isStaff {
		return RoleCoach
	}
	return RoleAthlete
}

// ErrInvalidToken is returned for session tokens that parse but name no
// account or carry an unknown role.
var ErrInvalidToken = errors.New("invalid token")

// SessionClaims is what an athlete or coach presents on every request after
// logging in. Role is informational; handlers re-read the account.
type SessionClaims struct {
	UserID int64  `json:"userID"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// IssueSessionToken signs an HS256 token for the account, valid for ttl.
func IssueSessionToken(userID int64, role, secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	if ttl <= 0 {
		return "", errors.New("token ttl must be positive")
	}
	if role != RoleAthlete && role != RoleCoach {
		return "", errors.New("unknown account role")
	}

	now := time.Now()
	claims := &SessionClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseSessionToken verifies signature and expiry and returns the claims.
func ParseSessionToken(tokenString, secret string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Only HMAC; "none" and RS256-with-secret are refused.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.UserID < 1 {
		return nil, ErrInvalidToken
	}
	if claims.Role != RoleAthlete && claims.Role != RoleCoach {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
