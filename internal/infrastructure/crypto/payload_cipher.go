// Package crypto cifra en reposo los snapshots de payload enviados al proveedor.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/jhoicas/Facturacion-api/internal/domain"
)

const (
	ivSize    = 12
	maxIVSize = 32
)

// PayloadCipher cifrado de sobre AES-GCM: [1 byte largo IV][IV][ciphertext+tag].
// La clave se carga una vez; cada llamada usa un IV aleatorio.
type PayloadCipher struct {
	block cipher.Block
	aead  cipher.AEAD
	rand  io.Reader
}

// NewPayloadCipher recibe la clave en base64 (16, 24 o 32 bytes decodificados).
// Un error aquí debe detener el arranque.
func NewPayloadCipher(keyB64 string) (*PayloadCipher, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(keyB64))
	if err != nil {
		return nil, fmt.Errorf("crypto: clave de payload no es base64 válido: %w", err)
	}
	return NewPayloadCipherFromKey(key)
}

// NewPayloadCipherFromKey igual que NewPayloadCipher con la clave ya decodificada.
func NewPayloadCipherFromKey(key []byte) (*PayloadCipher, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("crypto: la clave debe tener 16, 24 o 32 bytes (tiene %d)", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	return &PayloadCipher{block: block, aead: aead, rand: rand.Reader}, nil
}

// Encrypt devuelve el sobre cifrado. Entrada vacía se devuelve sin cambios.
func (c *PayloadCipher) Encrypt(plain []byte) ([]byte, error) {
	if len(plain) == 0 {
		return plain, nil
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return nil, fmt.Errorf("crypto: generando IV: %w", err)
	}
	out := make([]byte, 0, 1+ivSize+len(plain)+c.aead.Overhead())
	out = append(out, byte(ivSize))
	out = append(out, iv...)
	return c.aead.Seal(out, iv, plain, nil), nil
}

// Decrypt abre un sobre. Cualquier inconsistencia de formato o fallo del tag
// devuelve domain.ErrMalformedPayload.
func (c *PayloadCipher) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) == 0 {
		return blob, nil
	}
	ivLen := int(blob[0])
	if ivLen == 0 || ivLen > maxIVSize {
		return nil, fmt.Errorf("%w: largo de IV %d fuera de rango", domain.ErrMalformedPayload, ivLen)
	}
	rest := blob[1:]
	if len(rest) <= ivLen {
		return nil, fmt.Errorf("%w: sobre truncado", domain.ErrMalformedPayload)
	}
	aead := c.aead
	if ivLen != ivSize {
		// Sobres producidos con otro tamaño de nonce: se reconstruye el AEAD.
		var err error
		if aead, err = cipher.NewGCMWithNonceSize(c.block, ivLen); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
		}
	}
	plain, err := aead.Open(nil, rest[:ivLen], rest[ivLen:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: autenticación fallida", domain.ErrMalformedPayload)
	}
	return plain, nil
}

// GenerateKey devuelve una clave aleatoria en base64 (usado por fiscalctl keygen).
func GenerateKey(size int) (string, error) {
	switch size {
	case 16, 24, 32:
	default:
		return "", fmt.Errorf("crypto: tamaño de clave inválido %d", size)
	}
	key := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
