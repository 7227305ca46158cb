/**
 * @description
 * This package provides the cryptographic primitives used by the signup flow:
 * keyed hashing for PII lookup columns and OTP storage, authenticated encryption
 * for PII fields at rest, OTP generation, and a signed arithmetic captcha.
 *
 * Key features:
 * - HMAC-SHA256 signing with constant-time verification.
 * - AES-256-GCM encryption with a fresh random nonce per call; the nonce and
 *   authentication tag travel inside a single opaque base64 blob.
 * - OTP codes drawn from crypto/rand, never math/rand.
 *
 * @notes
 * - Decryption fails closed: a tampered or wrongly-keyed blob returns an error
 *   and callers must never proceed past it.
 */
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
)

// ErrDecryptionFailed is returned when a ciphertext blob cannot be
// authenticated or decoded. It indicates key mismatch or tampering.
var ErrDecryptionFailed = errors.New("decryption failed: ciphertext could not be authenticated")

// SignHMAC computes a deterministic HMAC-SHA256 of value and returns it hex-encoded.
// It is used for OTP hashes and for the document/phone lookup hash columns.
func SignHMAC(secret, value string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC recomputes the HMAC of value and compares it against expectedHex
// in constant time. A length mismatch is rejected up front; the length of a
// hex-encoded SHA256 digest is not secret.
func VerifyHMAC(secret, value, expectedHex string) bool {
	computed := SignHMAC(secret, value)
	if len(computed) != len(expectedHex) {
		return false
	}
	return hmac.Equal([]byte(computed), []byte(expectedHex))
}

// deriveKey turns the configured secret into a 32-byte AES key. A 64-char hex
// string is decoded directly; anything else is hashed so operators can use an
// arbitrary passphrase.
func deriveKey(secret string) []byte {
	if len(secret) == 64 {
		if raw, err := hex.DecodeString(secret); err == nil {
			return raw
		}
	}
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// Encrypt encrypts plaintext with AES-256-GCM under the given secret and
// returns an opaque base64 blob of nonce||ciphertext||tag. Each call generates
// a fresh random nonce.
func Encrypt(secret, plaintext string) (string, error) {
	block, err := aes.NewCipher(deriveKey(secret))
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. It returns ErrDecryptionFailed when the blob is
// malformed or the authentication tag does not verify.
func Decrypt(secret, blob string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	block, err := aes.NewCipher(deriveKey(secret))
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	if len(raw) < gcm.NonceSize() {
		return "", ErrDecryptionFailed
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// GenerateOTP returns a zero-padded numeric code of the given length drawn
// from a cryptographically secure source over [0, 10^length).
func GenerateOTP(length int) (string, error) {
	if length <= 0 {
		length = 6
	}
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n), nil
}

// Captcha is a small arithmetic challenge. The token is an HMAC binding the two
// operands together so the challenge cannot be forged or replayed with
// different numbers.
type Captcha struct {
	A     int    `json:"a"`
	B     int    `json:"b"`
	Token string `json:"token"`
}

// NewCaptcha generates a challenge with operands in [1, 20].
func NewCaptcha(secret string) (*Captcha, error) {
	a, err := rand.Int(rand.Reader, big.NewInt(20))
	if err != nil {
		return nil, fmt.Errorf("generate captcha operand: %w", err)
	}
	b, err := rand.Int(rand.Reader, big.NewInt(20))
	if err != nil {
		return nil, fmt.Errorf("generate captcha operand: %w", err)
	}

	c := &Captcha{A: int(a.Int64()) + 1, B: int(b.Int64()) + 1}
	c.Token = captchaToken(secret, c.A, c.B)
	return c, nil
}

// VerifyCaptcha checks that the token matches the operands and that the
// submitted answer is their sum. The token comparison is constant time.
func VerifyCaptcha(secret string, a, b int, token string, answer int) bool {
	if !VerifyHMAC(secret, captchaPayload(a, b), token) {
		return false
	}
	return answer == a+b
}

func captchaToken(secret string, a, b int) string {
	return SignHMAC(secret, captchaPayload(a, b))
}

func captchaPayload(a, b int) string {
	return strconv.Itoa(a) + "+" + strconv.Itoa(b)
}
