package feishu

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrDecrypt reports an event payload that could not be decrypted.
var ErrDecrypt = errors.New("feishu: event decryption failed")

// DecryptEvent decrypts an encrypted event callback body. The key is the
// SHA-256 of the app's encrypt key; the first block of the decoded data is
// the IV; the plaintext is PKCS#7 padded.
func DecryptEvent(encryptKey, encrypted string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %w", ErrDecrypt, err)
	}

	if len(raw) < aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d", ErrDecrypt, len(raw))
	}

	key := sha256.Sum256([]byte(encryptKey))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecrypt, err)
	}

	iv, ciphertext := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	return unpad(plain)
}

func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrDecrypt)
	}

	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", ErrDecrypt)
	}

	return b[:len(b)-n], nil
}
