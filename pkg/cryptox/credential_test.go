package cryptox

import (
	"crypto/des"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptCredential(t *testing.T) {
	t.Parallel()

	t.Run("matches known login page vector", func(t *testing.T) {
		got, err := EncryptCredential("IGEOE4OMIBo=", "abc123456")
		require.NoError(t, err)
		require.Equal(t, "9p5YTOsEgya0j7w0dbg/CA==", got)
	})

	t.Run("is deterministic", func(t *testing.T) {
		a, err := EncryptCredential("IGEOE4OMIBo=", "hunter2")
		require.NoError(t, err)
		b, err := EncryptCredential("IGEOE4OMIBo=", "hunter2")
		require.NoError(t, err)
		require.Equal(t, a, b)
	})

	t.Run("rejects malformed salt", func(t *testing.T) {
		_, err := EncryptCredential("not base64!!", "abc123456")
		require.Error(t, err)

		var encErr *EncryptError
		require.ErrorAs(t, err, &encErr)
		require.Equal(t, "not base64!!", encErr.Salt)
	})

	t.Run("pads short salt with 0xFF", func(t *testing.T) {
		short := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
		got, err := EncryptCredential(short, "pw")
		require.NoError(t, err)

		block, err := des.NewCipher([]byte{1, 2, 3, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
		require.NoError(t, err)
		want := make([]byte, des.BlockSize)
		block.Encrypt(want, []byte{'p', 'w', 6, 6, 6, 6, 6, 6})
		require.Equal(t, base64.StdEncoding.EncodeToString(want), got)
	})

	t.Run("empty password encrypts a full padding block", func(t *testing.T) {
		got, err := EncryptCredential("IGEOE4OMIBo=", "")
		require.NoError(t, err)

		raw, err := base64.StdEncoding.DecodeString(got)
		require.NoError(t, err)
		require.Len(t, raw, des.BlockSize)
	})
}

func TestPKCS7Pad(t *testing.T) {
	t.Parallel()

	require.Equal(t, []byte{'a', 7, 7, 7, 7, 7, 7, 7}, pkcs7Pad([]byte("a"), 8))
	require.Len(t, pkcs7Pad([]byte("12345678"), 8), 16)
	require.Len(t, pkcs7Pad([]byte("abc123456"), 8), 16)
}
