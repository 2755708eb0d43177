package provider

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jhoicas/Facturacion-api/internal/application/billing"
	"github.com/jhoicas/Facturacion-api/internal/domain"
)

// ── Circuit Breaker ──────────────────────────────────────────────────────────
// Cerrado → Abierto → Semiabierto. Solo los fallos transitorios abren el circuito:
// un rechazo de negocio significa que el proveedor respondió.

// BreakerState estado actual del circuito.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen se devuelve envuelto en un ProviderError transitorio.
var ErrCircuitOpen = errors.New("circuit breaker abierto")

// BreakerConfig parámetros del circuito.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
}

// DefaultBreakerConfig 5 fallos seguidos abren; 2 éxitos en semiabierto cierran.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, OpenTimeout: 60 * time.Second}
}

// BreakerClient decora un ProviderClient con circuit breaker.
type BreakerClient struct {
	next billing.ProviderClient
	now  func() time.Time

	mu               sync.Mutex
	state            BreakerState
	failures         int
	successes        int
	lastFailure      time.Time
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
}

var (
	_ billing.ProviderClient       = (*BreakerClient)(nil)
	_ billing.ProviderAvailability = (*BreakerClient)(nil)
)

// NewBreakerClient now puede ser nil (time.Now).
func NewBreakerClient(next billing.ProviderClient, cfg BreakerConfig, now func() time.Time) *BreakerClient {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if now == nil {
		now = time.Now
	}
	return &BreakerClient{
		next:             next,
		now:              now,
		state:            BreakerClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		openTimeout:      cfg.OpenTimeout,
	}
}

// State estado actual; pasa de abierto a semiabierto si venció el timeout.
func (b *BreakerClient) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *BreakerClient) stateLocked() BreakerState {
	if b.state == BreakerOpen && b.now().Sub(b.lastFailure) >= b.openTimeout {
		b.state = BreakerHalfOpen
		b.successes = 0
	}
	return b.state
}

// Available false mientras el circuito está abierto.
func (b *BreakerClient) Available() bool {
	return b.State() != BreakerOpen
}

func (b *BreakerClient) IssueInvoice(ctx context.Context, snapshot []byte, key string) (*billing.ProviderResult, error) {
	var res *billing.ProviderResult
	err := b.execute(func() error {
		var err error
		res, err = b.next.IssueInvoice(ctx, snapshot, key)
		return err
	})
	return res, err
}

func (b *BreakerClient) FetchDocument(ctx context.Context, id string) (*billing.RemoteDocument, error) {
	var doc *billing.RemoteDocument
	err := b.execute(func() error {
		var err error
		doc, err = b.next.FetchDocument(ctx, id)
		return err
	})
	return doc, err
}

func (b *BreakerClient) execute(fn func() error) error {
	if b.State() == BreakerOpen {
		return &domain.ProviderError{Message: ErrCircuitOpen.Error()}
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil && countsAsFailure(err) {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return err
}

// countsAsFailure errores transitorios y no clasificados cuentan; rechazos no.
func countsAsFailure(err error) bool {
	return !errors.Is(err, domain.ErrPermanentProvider)
}

func (b *BreakerClient) onFailure() {
	b.failures++
	b.lastFailure = b.now()
	switch b.state {
	case BreakerClosed:
		if b.failures >= b.failureThreshold {
			b.state = BreakerOpen
			b.successes = 0
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.failures = 0
	}
}

func (b *BreakerClient) onSuccess() {
	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.successThreshold {
			b.state = BreakerClosed
			b.failures = 0
			b.successes = 0
		}
	}
}
