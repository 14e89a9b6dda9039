package feishu

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecryptEvent_RoundTrip(t *testing.T) {
	iv := []byte("0123456789abcdef")
	plain := []byte(`{"schema":"2.0","header":{"event_type":"im.message.receive_v1"}}`)

	encrypted := encryptEvent(t, "test key", iv, plain)

	out, err := DecryptEvent("test key", encrypted)
	require.NoError(t, err)
	assert.Equal(t, plain, out)
}

// Vector published in the platform's event subscription guide.
func TestDecryptEvent_KnownVector(t *testing.T) {
	out, err := DecryptEvent("test key", "P37w+VZImNgPEO1RBhJ6RtKl7n6zymIbEG1pReEzghk=")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(out))
}

func TestDecryptEvent_WrongKey(t *testing.T) {
	encrypted := encryptEvent(t, "right", []byte("0123456789abcdef"), []byte(`{"a":1}`))

	// A wrong key almost always corrupts the padding byte; when it does not,
	// the plaintext is garbage.
	out, err := DecryptEvent("wrong", encrypted)
	if err == nil {
		assert.NotEqual(t, `{"a":1}`, string(out))
		return
	}

	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestDecryptEvent_BadInput(t *testing.T) {
	_, err := DecryptEvent("k", "not base64!")
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = DecryptEvent("k", "YWJj")
	assert.ErrorIs(t, err, ErrDecrypt)
}

// encryptEvent produces a callback body the way the platform does.
func encryptEvent(t *testing.T, encryptKey string, iv, plaintext []byte) string {
	t.Helper()

	key := sha256.Sum256([]byte(encryptKey))

	block, err := aes.NewCipher(key[:])
	require.NoError(t, err)

	pad := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := append(bytes.Clone(plaintext), bytes.Repeat([]byte{byte(pad)}, pad)...)

	out := make([]byte, aes.BlockSize+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)

	return base64.StdEncoding.EncodeToString(out)
}
