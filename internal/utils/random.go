package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const (
	clientIDPrefix = "cl_"
	apiTokenPrefix = "sk_"

	// no 0/o, 1/l/i to keep backup codes readable
	backupCodeAlphabet = "abcdefghjkmnpqrstuvwxyz23456789"
	backupCodeHalf     = 4
)

// GenerateSecureToken returns n random bytes, hex encoded
func GenerateSecureToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateClientID returns a new public client identifier
func GenerateClientID() (string, error) {
	token, err := GenerateSecureToken(12)
	if err != nil {
		return "", err
	}
	return clientIDPrefix + token, nil
}

// GenerateClientSecret returns a new client secret
func GenerateClientSecret() (string, error) {
	return GenerateSecureToken(32)
}

// GenerateAPIToken returns a new opaque API token
func GenerateAPIToken() (string, error) {
	token, err := GenerateSecureToken(32)
	if err != nil {
		return "", err
	}
	return apiTokenPrefix + token, nil
}

// IsAPIToken reports whether value has the shape of an API token rather than a JWT
func IsAPIToken(value string) bool {
	return strings.HasPrefix(value, apiTokenPrefix)
}

// GenerateBackupCodes returns n codes formatted as "xxxx-xxxx"
func GenerateBackupCodes(n int) ([]string, error) {
	codes := make([]string, 0, n)
	seen := make(map[string]struct{}, n)

	for len(codes) < n {
		code, err := randomString(backupCodeAlphabet, 2*backupCodeHalf)
		if err != nil {
			return nil, err
		}
		code = code[:backupCodeHalf] + "-" + code[backupCodeHalf:]
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}

	return codes, nil
}

// NormalizeBackupCode makes user input comparable with generated codes
func NormalizeBackupCode(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, " ", "")
	if len(code) == 2*backupCodeHalf && !strings.Contains(code, "-") {
		code = code[:backupCodeHalf] + "-" + code[backupCodeHalf:]
	}
	return code
}

// HashToken hashes a token using SHA256
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ConstantTimeEqual compares two strings without leaking their common prefix length
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func randomString(alphabet string, n int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	var sb strings.Builder
	sb.Grow(n)

	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random index: %w", err)
		}
		sb.WriteByte(alphabet[idx.Int64()])
	}

	return sb.String(), nil
}
