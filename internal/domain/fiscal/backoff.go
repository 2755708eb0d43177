package fiscal

import "time"

// maxBackoffExponent evita overflow de base·2^n.
const maxBackoffExponent = 30

// BackoffPolicy parámetros del backoff exponencial de la cola de contingencia.
type BackoffPolicy struct {
	Base time.Duration // <= 0 desactiva el backoff (siempre elegible)
	Max  time.Duration // tope del retardo; <= 0 sin tope
}

// Delay retardo requerido tras el intento número attempts (1-based): Base·2^(attempts-1).
func (p BackoffPolicy) Delay(attempts int) time.Duration {
	if p.Base <= 0 || attempts <= 0 {
		return 0
	}
	exp := attempts - 1
	if exp > maxBackoffExponent {
		exp = maxBackoffExponent
	}
	d := p.Base << uint(exp)
	if d <= 0 || d/p.Base != time.Duration(1)<<uint(exp) {
		// overflow del producto
		d = time.Duration(1<<63 - 1)
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

// NextEligibleAt instante desde el cual el ítem puede reintentarse.
// Sin intento previo (lastSyncAt nil) es elegible de inmediato.
func (p BackoffPolicy) NextEligibleAt(attempts int, lastSyncAt *time.Time) (time.Time, bool) {
	if lastSyncAt == nil {
		return time.Time{}, false
	}
	return lastSyncAt.Add(p.Delay(attempts)), true
}

// Eligible indica si a la hora now el ítem ya cumplió su backoff.
func (p BackoffPolicy) Eligible(attempts int, lastSyncAt *time.Time, now time.Time) bool {
	at, ok := p.NextEligibleAt(attempts, lastSyncAt)
	if !ok {
		return true
	}
	return !now.Before(at)
}
