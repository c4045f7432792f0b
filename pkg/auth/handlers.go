package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/antibyte/flail/pkg/logger"
)

// maxLoginBody bounds the size of a login request.
const maxLoginBody = 4 << 10

// Verifier checks operator credentials.
type Verifier interface {
	VerifyOperator(ctx context.Context, username, password string) error
}

// LoginRequest is the body of POST /api/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the answer to a login request.
type LoginResponse struct {
	Success   bool   `json:"success"`
	Token     string `json:"token,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message"`
}

// HandleLogin returns the login handler. On success the token is returned
// in the body and set as cookie.
func HandleLogin(v Verifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Content-Type", "application/json")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodPost {
			logger.AuthWarn("Invalid method for login: %s", r.Method)
			respondWithError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req LoginRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody)).Decode(&req); err != nil {
			logger.AuthWarn("Invalid JSON in login request: %v", err)
			respondWithError(w, "Invalid request format", http.StatusBadRequest)
			return
		}
		if req.Username == "" || req.Password == "" {
			respondWithError(w, "Username and password required", http.StatusBadRequest)
			return
		}

		if err := v.VerifyOperator(r.Context(), req.Username, req.Password); err != nil {
			logger.SecurityWarn("Failed login for %q from %s: %v", req.Username, r.RemoteAddr, err)
			respondWithError(w, "Invalid username or password", http.StatusUnauthorized)
			return
		}

		sessionID := NewSessionID()
		token, err := GenerateOperatorToken(sessionID, req.Username)
		if err != nil {
			logger.AuthError("Failed to generate token for %s: %v", req.Username, err)
			respondWithError(w, "Failed to generate token", http.StatusInternalServerError)
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     TokenCookie,
			Value:    token,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
			Secure:   r.TLS != nil,
			Expires:  time.Now().Add(getTokenExpiration()),
		})

		logger.AuthInfo("Operator %s logged in (session %s)", req.Username, sessionID)
		json.NewEncoder(w).Encode(LoginResponse{
			Success:   true,
			Token:     token,
			SessionID: sessionID,
			Message:   "Login successful",
		})
	}
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(LoginResponse{
		Success: false,
		Message: message,
	})
}
