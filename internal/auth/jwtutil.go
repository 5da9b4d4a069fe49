package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	b64 = base64.RawURLEncoding

	// ErrInvalidToken covers malformed tokens and signature mismatches.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned when the exp claim is in the past.
	ErrTokenExpired = errors.New("token expired")
)

// SignHS256 creates a compact JWT string using HS256.
func SignHS256(claims map[string]any, secret []byte) (string, error) {
	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	h, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	c, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	unsigned := b64.EncodeToString(h) + "." + b64.EncodeToString(c)
	return unsigned + "." + b64.EncodeToString(mac(secret, []byte(unsigned))), nil
}

// ParseAndVerifyHS256 verifies token signature and returns claims.
func ParseAndVerifyHS256(token string, secret []byte) (map[string]any, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, errors.New("invalid token format")
	}
	unsigned := parts[0] + "." + parts[1]
	sigBytes, err := b64.DecodeString(parts[2])
	if err != nil {
		return nil, errors.New("invalid signature encoding")
	}
	if !hmac.Equal(sigBytes, mac(secret, []byte(unsigned))) {
		return nil, errors.New("signature mismatch")
	}
	payload, err := b64.DecodeString(parts[1])
	if err != nil {
		return nil, errors.New("invalid payload encoding")
	}
	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, errors.New("invalid claims json")
	}
	return claims, nil
}

// SignAccountToken issues a token whose subject is the wallet account id.
// A zero ttl produces a token without expiry.
func SignAccountToken(accountID string, ttl time.Duration, secret []byte) (string, error) {
	claims := map[string]any{"sub": accountID, "iat": time.Now().Unix()}
	if ttl > 0 {
		claims["exp"] = time.Now().Add(ttl).Unix()
	}
	return SignHS256(claims, secret)
}

// AccountFromToken verifies token and returns its subject.
func AccountFromToken(token string, secret []byte, now time.Time) (string, error) {
	claims, err := ParseAndVerifyHS256(token, secret)
	if err != nil {
		return "", errors.Join(ErrInvalidToken, err)
	}
	if exp, ok := claims["exp"].(float64); ok && now.Unix() >= int64(exp) {
		return "", ErrTokenExpired
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errors.Join(ErrInvalidToken, errors.New("missing subject"))
	}
	return sub, nil
}

// Sign returns the hex HMAC-SHA256 of body, as sent by the payment provider.
func Sign(secret, body []byte) string {
	return hex.EncodeToString(mac(secret, body))
}

// VerifySignature checks a hex HMAC-SHA256 signature. An empty secret never verifies.
func VerifySignature(secret, body []byte, signature string) bool {
	if len(secret) == 0 || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}
	return hmac.Equal(got, mac(secret, body))
}

func mac(secret, data []byte) []byte {
	m := hmac.New(sha256.New, secret)
	m.Write(data)
	return m.Sum(nil)
}
