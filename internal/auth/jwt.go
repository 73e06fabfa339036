package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"labtrack/internal/lab"
)

// TokenPair holds access and refresh tokens.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

// Claims represents JWT payload.
type Claims struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Building string `json:"building,omitempty"`
	Refresh  bool   `json:"refresh,omitempty"`
	jwt.RegisteredClaims
}

// User rebuilds the verified identity carried by the claims.
func (c Claims) User() (lab.User, error) {
	role, ok := lab.ParseRole(c.Role)
	if !ok {
		return lab.User{}, errors.New("unknown role")
	}
	return lab.User{ID: c.Subject, Username: c.Username, Name: c.Name, Role: role, Building: c.Building}, nil
}

func claimsFor(u lab.User, issuer string, exp time.Time, refresh bool) Claims {
	return Claims{
		Username: u.Username,
		Name:     u.Name,
		Role:     string(u.Role),
		Building: u.Building,
		Refresh:  refresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   u.ID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

// Issue issues signed access and refresh tokens for u.
func Issue(u lab.User, issuer, key string, accessTTL, refreshTTL time.Duration) (TokenPair, error) {
	accessExp := time.Now().Add(accessTTL)
	refreshExp := time.Now().Add(refreshTTL)

	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claimsFor(u, issuer, accessExp, false)).SignedString([]byte(key))
	if err != nil {
		return TokenPair{}, err
	}

	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claimsFor(u, issuer, refreshExp, true)).SignedString([]byte(key))
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	return *claims, nil
}
