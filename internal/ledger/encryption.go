package ledger

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	// encryptionMagicHeader is prepended to encrypted ledger files for
	// identification.
	encryptionMagicHeader = "MTGBENC1"

	// Argon2id parameters (RFC 9106 recommendations)
	argon2Time    = 1
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4
	argon2KeyLen  = 32 // 256 bits for AES-256

	saltLength = 32
)

// deriveKey derives an AES-256 key from a passphrase using Argon2id.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
}

// encryptLedger encrypts a serialized ledger using AES-256-GCM with
// password-based key derivation.
// Output: magic header || salt || nonce || ciphertext (includes auth tag).
func encryptLedger(plaintext []byte, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("encryption passphrase required")
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	result := make([]byte, 0, len(encryptionMagicHeader)+len(salt)+len(nonce)+len(ciphertext))
	result = append(result, encryptionMagicHeader...)
	result = append(result, salt...)
	result = append(result, nonce...)
	result = append(result, ciphertext...)
	return result, nil
}

// decryptLedger decrypts data produced by encryptLedger.
func decryptLedger(data []byte, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("encryption passphrase required")
	}
	if !isEncrypted(data) {
		return nil, fmt.Errorf("ledger file is not encrypted or has wrong format")
	}
	encrypted := data[len(encryptionMagicHeader):]

	// Minimum size: salt + 12-byte nonce + 16-byte auth tag
	if len(encrypted) < saltLength+12+16 {
		return nil, fmt.Errorf("encrypted ledger too short")
	}

	salt := encrypted[:saltLength]
	encrypted = encrypted[saltLength:]

	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(encrypted) < gcm.NonceSize() {
		return nil, fmt.Errorf("encrypted ledger too short for nonce")
	}
	nonce := encrypted[:gcm.NonceSize()]
	ciphertext := encrypted[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed (wrong passphrase or corrupted data): %w", err)
	}
	return plaintext, nil
}

// isEncrypted checks for the magic header.
func isEncrypted(data []byte) bool {
	return len(data) >= len(encryptionMagicHeader) && string(data[:len(encryptionMagicHeader)]) == encryptionMagicHeader
}
