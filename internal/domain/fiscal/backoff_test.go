package fiscal_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jhoicas/Facturacion-api/internal/domain/fiscal"
)

func TestBackoff_DoublesPerAttempt(t *testing.T) {
	p := fiscal.BackoffPolicy{Base: time.Minute, Max: time.Hour}

	assert.Equal(t, time.Minute, p.Delay(1))
	assert.Equal(t, 2*time.Minute, p.Delay(2))
	assert.Equal(t, 4*time.Minute, p.Delay(3))
	assert.Equal(t, time.Hour, p.Delay(10), "el retardo se acota al máximo")
}

func TestBackoff_ClampedExponentDoesNotOverflow(t *testing.T) {
	p := fiscal.BackoffPolicy{Base: time.Hour}
	d := p.Delay(500)
	assert.Greater(t, d, time.Duration(0))
	assert.GreaterOrEqual(t, d, p.Delay(31))
}

func TestBackoff_Eligibility(t *testing.T) {
	p := fiscal.BackoffPolicy{Base: 30 * time.Second, Max: 10 * time.Minute}
	last := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, p.Eligible(0, nil, last), "sin intento previo siempre es elegible")

	// Tras el 2º intento se exige 60s.
	assert.False(t, p.Eligible(2, &last, last.Add(59*time.Second)))
	assert.True(t, p.Eligible(2, &last, last.Add(60*time.Second)))

	// Tras el 3º intento, 120s.
	assert.False(t, p.Eligible(3, &last, last.Add(119*time.Second)))
	assert.True(t, p.Eligible(3, &last, last.Add(2*time.Minute)))
}

func TestBackoff_DisabledBaseAlwaysEligible(t *testing.T) {
	p := fiscal.BackoffPolicy{}
	last := time.Now()
	assert.True(t, p.Eligible(7, &last, last))
	assert.Equal(t, time.Duration(0), p.Delay(3))
}
