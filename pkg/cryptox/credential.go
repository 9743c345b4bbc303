package cryptox

import (
	"bytes"
	"crypto/des"
	"encoding/base64"
	"fmt"
)

// credentialKeySize is the DES key size used by the SSO login page.
const credentialKeySize = des.BlockSize

// EncryptError reports a login-page salt that could not be turned into a key.
type EncryptError struct {
	Salt string
	Err  error
}

func (e *EncryptError) Error() string {
	return fmt.Sprintf("cryptox: invalid credential salt %q: %v", e.Salt, e.Err)
}

func (e *EncryptError) Unwrap() error { return e.Err }

// EncryptCredential encrypts a plaintext password the way the SSO login form
// expects it to be submitted.
//
// The salt is the base64 value published on the login page. Its decoded bytes
// form an 8-byte DES key, right-padded with 0xFF when shorter. The password is
// PKCS#7 padded and encrypted block by block (ECB, no IV); the result is
// returned base64 encoded.
//
// The output is deterministic for a given salt and password.
func EncryptCredential(saltB64, password string) (string, error) {
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return "", &EncryptError{Salt: saltB64, Err: err}
	}

	key := bytes.Repeat([]byte{0xFF}, credentialKeySize)
	copy(key, salt)

	block, err := des.NewCipher(key)
	if err != nil {
		return "", &EncryptError{Salt: saltB64, Err: err}
	}

	plain := pkcs7Pad([]byte(password), des.BlockSize)
	out := make([]byte, len(plain))
	for i := 0; i < len(plain); i += des.BlockSize {
		block.Encrypt(out[i:i+des.BlockSize], plain[i:i+des.BlockSize])
	}

	return base64.StdEncoding.EncodeToString(out), nil
}

// pkcs7Pad always appends between 1 and blockSize bytes.
func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	padded := make([]byte, len(data), len(data)+n)
	copy(padded, data)
	return append(padded, bytes.Repeat([]byte{byte(n)}, n)...)
}
