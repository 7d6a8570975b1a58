package mockserver

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const ownerKey contextKey = "owner"

type tokenClaims struct {
	jwt.RegisteredClaims
	TokenType string `json:"token_type"`
}

func (s *Server) issue(username, typ string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TokenType: typ,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

func (s *Server) issuePair(username string) (access, refresh string, err error) {
	if access, err = s.issue(username, "access", s.accessTTL); err != nil {
		return "", "", err
	}
	if refresh, err = s.issue(username, "refresh", s.refreshTTL); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (s *Server) verify(token, wantType string) (string, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", err
	}
	if claims.TokenType != wantType {
		return "", errors.New("wrong token type")
	}
	return claims.Subject, nil
}

// authMiddleware verifies the bearer access token and stores the owner in the
// request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeDetail(w, http.StatusUnauthorized, "Authentication credentials were not provided.")
			return
		}
		username, err := s.verify(parts[1], "access")
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Given token not valid for any token type")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey, username)))
	})
}

func ownerFrom(r *http.Request) string {
	owner, _ := r.Context().Value(ownerKey).(string)
	return owner
}

// decodeDataURL parses "data:image/<ext>;base64,<payload>" and returns the
// extension and raw bytes.
func decodeDataURL(s string) (ext string, data []byte, err error) {
	const prefix = "data:image/"
	if !strings.HasPrefix(s, prefix) {
		return "", nil, errors.New("not an image data URL")
	}
	rest := s[len(prefix):]
	sep := strings.Index(rest, ";base64,")
	if sep <= 0 {
		return "", nil, errors.New("missing base64 marker")
	}
	ext = rest[:sep]
	data, err = base64.StdEncoding.DecodeString(rest[sep+len(";base64,"):])
	if err != nil || len(data) == 0 {
		return "", nil, errors.New("corrupt base64 payload")
	}
	return ext, data, nil
}
