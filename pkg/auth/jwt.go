// Package auth issues and checks the operator tokens of the compile server.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/antibyte/flail/pkg/configuration"
	"github.com/antibyte/flail/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWT configuration constants
const (
	// Default values - actual values are loaded from configuration
	defaultJWTSecret       = "fallback_secret_change_in_production"
	defaultTokenExpiration = 12

	// SecretEnvVar overrides [JWT] secret_key.
	SecretEnvVar = "FLAIL_JWT_SECRET"
	// TokenCookie is the cookie name checked by ExtractTokenFromRequest.
	TokenCookie = "flail_token"

	tokenIssuer = "flail"
)

// ErrNoToken is returned when a request carries no token at all.
var ErrNoToken = errors.New("no token found in request")

// getJWTSecret retrieves the JWT secret from environment variable or configuration
func getJWTSecret() string {
	if envSecret := os.Getenv(SecretEnvVar); envSecret != "" {
		return envSecret
	}

	secret := configuration.GetString("JWT", "secret_key", defaultJWTSecret)
	if secret == defaultJWTSecret {
		logger.SecurityWarn("Using fallback JWT secret - set %s for production!", SecretEnvVar)
	}
	return secret
}

func getTokenExpiration() time.Duration {
	hours := configuration.GetInt("JWT", "token_expiration_hours", defaultTokenExpiration)
	return time.Duration(hours) * time.Hour
}

// OperatorClaims are the claims of an operator token.
type OperatorClaims struct {
	SessionID string `json:"sid"`
	Username  string `json:"username"`
	jwt.RegisteredClaims
}

// NewSessionID returns a fresh random session ID.
func NewSessionID() string {
	return uuid.New().String()
}

// GenerateOperatorToken signs a token for a logged in operator.
func GenerateOperatorToken(sessionID, username string) (string, error) {
	now := time.Now()
	claims := OperatorClaims{
		SessionID: sessionID,
		Username:  username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(getTokenExpiration())),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   username,
			ID:        sessionID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(getJWTSecret()))
	if err != nil {
		return "", fmt.Errorf("token could not be signed: %w", err)
	}

	logger.AuthInfo("Operator token generated for %s (session %s)", username, sessionID)
	return signedToken, nil
}

// ValidateOperatorToken parses and checks an operator token.
func ValidateOperatorToken(tokenString string) (*OperatorClaims, error) {
	secretKey := getJWTSecret()

	token, err := jwt.ParseWithClaims(
		tokenString,
		&OperatorClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing algorithm: %v", token.Header["alg"])
			}
			return []byte(secretKey), nil
		},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("token parsing failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*OperatorClaims)
	if !ok {
		return nil, fmt.Errorf("could not extract token claims")
	}
	if claims.Username == "" {
		return nil, fmt.Errorf("token has no username")
	}
	return claims, nil
}

// ExtractTokenFromRequest extracts the JWT token from the HTTP request
// The token can be passed in the Authorization header (Bearer Token), as a
// cookie or as the token query parameter
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" { // Format: "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" && parts[1] != "" {
			return parts[1], nil
		}
		return "", fmt.Errorf("invalid authorization header format")
	}

	if cookie, err := r.Cookie(TokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	// The websocket handshake of browsers cannot set headers.
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}

	return "", ErrNoToken
}

// RequireOperator is a middleware that rejects requests without a valid
// operator token and stores the claims in the request context.
func RequireOperator(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next(w, r)
			return
		}

		tokenString, err := ExtractTokenFromRequest(r)
		if err != nil {
			logger.AuthWarn("No token in request to %s: %v", r.URL.Path, err)
			respondWithError(w, "Unauthorized: token missing", http.StatusUnauthorized)
			return
		}

		claims, err := ValidateOperatorToken(tokenString)
		if err != nil {
			logger.AuthWarn("Invalid token for %s: %v", r.URL.Path, err)
			respondWithError(w, "Unauthorized: invalid token", http.StatusUnauthorized)
			return
		}

		next(w, r.WithContext(AddClaimsToContext(r.Context(), claims)))
	}
}
