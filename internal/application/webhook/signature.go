package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jhoicas/Facturacion-api/internal/domain"
)

// SignatureHeader cabecera HTTP con la firma del proveedor.
const SignatureHeader = "X-Provider-Signature"

// DefaultTolerance ventana máxima entre el timestamp firmado y el reloj local.
const DefaultTolerance = 5 * time.Minute

// ErrInvalidSignature firma ausente, mal formada, vencida o que no coincide.
var ErrInvalidSignature = fmt.Errorf("%w: firma de webhook inválida", domain.ErrUnauthorized)

// Sign arma la cabecera t=<unix>,v1=<hex> para body con el secreto compartido.
func Sign(secret []byte, ts time.Time, body []byte) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + t + ",v1=" + computeMAC(secret, t, body)
}

// Verify valida la cabecera contra el body crudo. No parsea el body.
func Verify(secret []byte, header string, body []byte, now time.Time, tolerance time.Duration) error {
	if len(secret) == 0 {
		return fmt.Errorf("%w: secreto no configurado", ErrInvalidSignature)
	}
	var (
		ts   string
		sigs []string
	)
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return fmt.Errorf("%w: cabecera incompleta", ErrInvalidSignature)
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: timestamp inválido", ErrInvalidSignature)
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if d := now.Sub(time.Unix(unix, 0)); d > tolerance || d < -tolerance {
		return fmt.Errorf("%w: timestamp fuera de la ventana de %s", ErrInvalidSignature, tolerance)
	}

	expected, _ := hex.DecodeString(computeMAC(secret, ts, body))
	for _, s := range sigs {
		got, err := hex.DecodeString(s)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return fmt.Errorf("%w: la firma no coincide", ErrInvalidSignature)
}

func computeMAC(secret []byte, ts string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
