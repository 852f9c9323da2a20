// Package auth signs and verifies the session tokens the widget host hands
// to room members. A token binds a Matrix user id and power-level role to a
// room for a limited time.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Claims struct {
	Sub    string `json:"sub"`
	Role   string `json:"role"`
	RoomID string `json:"room"`
	Exp    int64  `json:"exp"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
	ErrWrongRoom    = errors.New("token issued for another room")
)

// Verifier checks tokens for one room.
type Verifier struct {
	secret []byte
	roomID string
	now    func() time.Time
}

func NewVerifier(secret, roomID string) *Verifier {
	return &Verifier{secret: []byte(secret), roomID: roomID, now: time.Now}
}

func (v *Verifier) Verify(token string) (Claims, error) {
	claims, err := parse(v.secret, token, v.now())
	if err != nil {
		return Claims{}, err
	}
	if v.roomID != "" && claims.RoomID != v.roomID {
		return Claims{}, ErrWrongRoom
	}
	return claims, nil
}

func IssueToken(secret []byte, claims Claims) (string, error) {
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	return payload + "." + sign(secret, payload), nil
}

func ParseToken(secret []byte, token string) (Claims, error) {
	return parse(secret, token, time.Now())
}

func parse(secret []byte, token string, now time.Time) (Claims, error) {
	payload, signature, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || strings.Contains(signature, ".") {
		return Claims{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(signature), []byte(sign(secret, payload))) {
		return Claims{}, ErrInvalidToken
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if claims.Sub == "" || claims.Exp == 0 {
		return Claims{}, ErrInvalidToken
	}
	if now.Unix() >= claims.Exp {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

func sign(secret []byte, payload string) string {
	sum := hmac.New(sha256.New, secret)
	_, _ = sum.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(sum.Sum(nil))
}

// BearerToken extracts the token of an "Authorization: Bearer" header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
