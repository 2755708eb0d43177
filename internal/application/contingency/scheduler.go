package contingency

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrRunInProgress otra pasada sigue en curso (en este proceso o en otra réplica).
var ErrRunInProgress = errors.New("contingencia: pasada en curso")

// Runner lo que el scheduler ejecuta en cada tick.
type Runner interface {
	RunOnce(ctx context.Context) (RunResult, error)
}

// RunLock lock distribuido para que una sola réplica drene la cola por tick. Opcional.
type RunLock interface {
	// TryAcquire devuelve release != nil si obtuvo el lock.
	TryAcquire(ctx context.Context, ttl time.Duration) (release func(), err error)
}

// Scheduler ejecuta el Runner periódicamente sin reentrada.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	lock     RunLock
	lockTTL  time.Duration
	mu       sync.Mutex
	log      zerolog.Logger
}

// NewScheduler lock puede ser nil (una sola réplica).
func NewScheduler(runner Runner, interval time.Duration, lock RunLock, log zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		lock:     lock,
		lockTTL:  2 * interval,
		log:      log,
	}
}

// Start lanza la goroutine del ticker; termina cuando ctx se cancela.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.log.Info().Dur("interval", s.interval).Msg("contingencia: scheduler iniciado")
		for {
			select {
			case <-ctx.Done():
				s.log.Info().Msg("contingencia: scheduler detenido")
				return
			case <-ticker.C:
				if _, err := s.Trigger(ctx); err != nil && !errors.Is(err, ErrRunInProgress) {
					s.log.Error().Err(err).Msg("contingencia: pasada fallida")
				}
			}
		}
	}()
}

// Trigger ejecuta una pasada ahora si no hay otra en curso.
func (s *Scheduler) Trigger(ctx context.Context) (RunResult, error) {
	if !s.mu.TryLock() {
		return RunResult{}, ErrRunInProgress
	}
	defer s.mu.Unlock()

	if s.lock != nil {
		release, err := s.lock.TryAcquire(ctx, s.lockTTL)
		if err != nil {
			return RunResult{}, err
		}
		if release == nil {
			return RunResult{}, ErrRunInProgress
		}
		defer release()
	}
	return s.runner.RunOnce(ctx)
}
