package crypto_test

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/internal/infrastructure/crypto"
)

func newCipher(t *testing.T) *crypto.PayloadCipher {
	t.Helper()
	key, err := crypto.GenerateKey(32)
	require.NoError(t, err)
	c, err := crypto.NewPayloadCipher(key)
	require.NoError(t, err)
	return c
}

func TestPayloadCipher_RoundTrip(t *testing.T) {
	c := newCipher(t)
	for _, p := range [][]byte{
		[]byte("x"),
		[]byte(`{"schema_version":1,"document_id":"d-1","total":"1190.00"}`),
		bytes.Repeat([]byte{0xAB}, 4096),
	} {
		enc, err := c.Encrypt(p)
		require.NoError(t, err)
		assert.NotEqual(t, p, enc)
		assert.Equal(t, byte(12), enc[0], "el primer byte declara el largo del IV")

		dec, err := c.Decrypt(enc)
		require.NoError(t, err)
		assert.Equal(t, p, dec)
	}
}

func TestPayloadCipher_RandomIVPerCall(t *testing.T) {
	c := newCipher(t)
	a, err := c.Encrypt([]byte("mismo payload"))
	require.NoError(t, err)
	b, err := c.Encrypt([]byte("mismo payload"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestPayloadCipher_TamperDetected(t *testing.T) {
	c := newCipher(t)
	enc, err := c.Encrypt([]byte("documento sensible"))
	require.NoError(t, err)

	for i := 1; i < len(enc); i++ {
		mut := append([]byte(nil), enc...)
		mut[i] ^= 0x01
		_, err := c.Decrypt(mut)
		require.ErrorIs(t, err, domain.ErrMalformedPayload, "byte %d modificado", i)
	}
}

func TestPayloadCipher_EmptyPassThrough(t *testing.T) {
	c := newCipher(t)

	enc, err := c.Encrypt(nil)
	require.NoError(t, err)
	assert.Empty(t, enc)

	dec, err := c.Decrypt([]byte{})
	require.NoError(t, err)
	assert.Empty(t, dec)
}

func TestPayloadCipher_MalformedEnvelopes(t *testing.T) {
	c := newCipher(t)
	cases := map[string][]byte{
		"iv cero":        {0x00, 0x01, 0x02},
		"iv mayor a 32":  append([]byte{33}, bytes.Repeat([]byte{1}, 64)...),
		"sin ciphertext": append([]byte{12}, bytes.Repeat([]byte{1}, 12)...),
		"truncado":       {12, 1, 2, 3},
	}
	for name, blob := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := c.Decrypt(blob)
			require.ErrorIs(t, err, domain.ErrMalformedPayload)
		})
	}
}

func TestNewPayloadCipher_RejectsBadKeys(t *testing.T) {
	_, err := crypto.NewPayloadCipher("no-es-base64!!")
	require.Error(t, err)

	_, err = crypto.NewPayloadCipher(base64.StdEncoding.EncodeToString(make([]byte, 20)))
	require.Error(t, err)

	_, err = crypto.NewPayloadCipher(base64.StdEncoding.EncodeToString(make([]byte, 16)))
	require.NoError(t, err)
}

func TestPayloadCipher_OtherKeyCannotDecrypt(t *testing.T) {
	a, b := newCipher(t), newCipher(t)
	enc, err := a.Encrypt([]byte("hola"))
	require.NoError(t, err)
	_, err = b.Decrypt(enc)
	require.ErrorIs(t, err, domain.ErrMalformedPayload)
}
