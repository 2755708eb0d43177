// Package contingency drena la cola de contingencia: reintenta contra el proveedor los
// documentos emitidos offline, con backoff exponencial acotado.
package contingency

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/Facturacion-api/internal/application/billing"
	"github.com/jhoicas/Facturacion-api/internal/application/dto"
	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
	"github.com/jhoicas/Facturacion-api/internal/domain/fiscal"
)

// Config parámetros del motor.
type Config struct {
	Enabled         bool
	BatchSize       int
	MaxAttempts     int
	Backoff         fiscal.BackoffPolicy
	ProviderTimeout time.Duration
}

// DeadLetter entrada enviada a la DLQ cuando un documento queda FAILED.
type DeadLetter struct {
	DocumentID     string    `json:"document_id"`
	CompanyID      string    `json:"company_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	Attempts       int       `json:"attempts"`
	Reason         string    `json:"reason"`
	FailedAt       time.Time `json:"failed_at"`
}

// DeadLetterSink destino de los fallos permanentes (opcional).
type DeadLetterSink interface {
	Push(ctx context.Context, dl DeadLetter) error
}

// RunResult resumen de una pasada.
type RunResult struct {
	Processed int `json:"processed"`
	Synced    int `json:"synced"`
	Requeued  int `json:"requeued"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Orphans   int `json:"orphans"`
	Errors    int `json:"errors"`
}

type itemOutcome int

const (
	outcomeSkipped itemOutcome = iota
	outcomeSynced
	outcomeRequeued
	outcomeFailed
	outcomeOrphan
	outcomeError
)

func (r *RunResult) add(o itemOutcome) {
	r.Processed++
	switch o {
	case outcomeSynced:
		r.Synced++
	case outcomeRequeued:
		r.Requeued++
	case outcomeFailed:
		r.Failed++
	case outcomeOrphan:
		r.Orphans++
	case outcomeError:
		r.Errors++
	default:
		r.Skipped++
	}
}

// Engine motor de sincronización. Un único escritor: el Scheduler garantiza que dos
// pasadas no se solapen.
type Engine struct {
	repos     billing.FiscalRepos
	tx        billing.FiscalTxRunner
	provider  billing.ProviderClient
	artifacts *billing.Artifacts
	cipher    billing.PayloadCipher
	clock     billing.Clock
	dlq       DeadLetterSink
	cfg       Config
	metrics   *Metrics
	log       zerolog.Logger
}

// NewEngine provider, cipher y dlq pueden ser nil.
func NewEngine(
	repos billing.FiscalRepos,
	tx billing.FiscalTxRunner,
	provider billing.ProviderClient,
	artifacts *billing.Artifacts,
	cipher billing.PayloadCipher,
	clock billing.Clock,
	dlq DeadLetterSink,
	cfg Config,
	log zerolog.Logger,
) *Engine {
	if clock == nil {
		clock = billing.SystemClock{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 15 * time.Second
	}
	return &Engine{
		repos:     repos,
		tx:        tx,
		provider:  provider,
		artifacts: artifacts,
		cipher:    cipher,
		clock:     clock,
		dlq:       dlq,
		cfg:       cfg,
		metrics:   &Metrics{},
		log:       log,
	}
}

// Metrics contadores acumulados del motor.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Enabled indica si el motor está activo y tiene proveedor.
func (e *Engine) Enabled() bool { return e.cfg.Enabled && e.provider != nil }

// RunOnce procesa un lote. Los errores por ítem se registran y no cortan el lote;
// un panic a nivel de lote se recupera y se devuelve como error.
func (e *Engine) RunOnce(ctx context.Context) (res RunResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("contingencia: panic en el lote")
			err = fmt.Errorf("contingencia: panic en el lote: %v", r)
		}
	}()

	if !e.Enabled() {
		return res, nil
	}
	if av, ok := e.provider.(billing.ProviderAvailability); ok && !av.Available() {
		e.log.Debug().Msg("contingencia: circuit breaker abierto, se omite la pasada")
		return res, nil
	}

	items, err := e.repos.Queue.ListPending(ctx, e.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("contingencia: listar pendientes: %w", err)
	}
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		res.add(e.processSafe(ctx, item))
	}
	e.metrics.recordResult(res, e.clock.Now())

	if res.Processed > 0 {
		e.log.Info().
			Int("processed", res.Processed).
			Int("synced", res.Synced).
			Int("requeued", res.Requeued).
			Int("failed", res.Failed).
			Int("skipped", res.Skipped).
			Msg("contingencia: pasada completada")
	}
	return res, nil
}

func (e *Engine) processSafe(ctx context.Context, item *entity.ContingencyQueueItem) (out itemOutcome) {
	log := e.log.With().
		Str("document_id", item.DocumentID).
		Str("idempotency_key", item.IdempotencyKey).
		Int("attempt", item.SyncAttempts).
		Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("contingencia: panic procesando ítem")
			out = outcomeError
		}
	}()
	out, err := e.process(ctx, item, log)
	if err != nil {
		log.Error().Err(err).Msg("contingencia: error procesando ítem")
		return outcomeError
	}
	return out
}

func (e *Engine) process(ctx context.Context, item *entity.ContingencyQueueItem, log zerolog.Logger) (itemOutcome, error) {
	now := e.clock.Now()

	// ── 1. Documento vinculado ────────────────────────────────────────────────
	doc, err := e.repos.Documents.GetByID(ctx, item.DocumentID)
	if err != nil {
		return outcomeError, fmt.Errorf("obtener documento: %w", err)
	}
	if doc == nil || doc.IsDurablyAccepted() {
		// Aceptado por otra vía (online o webhook): el ítem sobra.
		if err := e.repos.Queue.Delete(ctx, item.ID); err != nil {
			return outcomeError, fmt.Errorf("eliminar ítem huérfano: %w", err)
		}
		log.Info().Msg("contingencia: ítem huérfano eliminado")
		return outcomeOrphan, nil
	}
	if doc.Status == entity.FiscalStatusFailed {
		item.Status = entity.FiscalStatusFailed
		item.ErrorDetail = doc.ErrorDetail
		item.UpdatedAt = now
		if err := e.repos.Queue.Update(ctx, item); err != nil {
			return outcomeError, err
		}
		return outcomeSkipped, nil
	}

	// ── 2. Agotado / backoff ──────────────────────────────────────────────────
	if item.SyncAttempts >= e.cfg.MaxAttempts {
		reason := fmt.Sprintf("reintentos agotados (%d)", item.SyncAttempts)
		return e.fail(ctx, doc, item, reason, log)
	}
	if !e.cfg.Backoff.Eligible(item.SyncAttempts, item.LastSyncAt, now) {
		return outcomeSkipped, nil
	}

	// ── 3. Snapshot ───────────────────────────────────────────────────────────
	raw, snap, err := e.openSnapshot(item)
	if err != nil {
		return e.fail(ctx, doc, item, err.Error(), log)
	}

	// ── 4. Intento: SYNCING + attempts++ persistido antes de llamar ───────────
	prev := doc.Status
	if _, err := fiscal.Apply(doc, item, fiscal.Outcome{Status: entity.FiscalStatusSyncing, At: now, CountAttempt: true}); err != nil {
		return outcomeError, err
	}
	if err := e.persist(ctx, doc, prev, item, false); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Un webhook cambió el documento; la próxima pasada verá su estado.
			return outcomeSkipped, nil
		}
		return outcomeError, err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ProviderTimeout)
	result, perr := e.provider.IssueInvoice(callCtx, raw, item.IdempotencyKey)
	cancel()

	switch {
	case perr == nil:
		return e.succeed(ctx, doc, item, snap, result, log)
	case billing.IsPermanentProviderError(perr):
		return e.fail(ctx, doc, item, perr.Error(), log)
	default:
		// Transitorio o no clasificado: el tope de intentos acota los reintentos.
		return e.requeue(ctx, doc, item, perr, log)
	}
}

func (e *Engine) openSnapshot(item *entity.ContingencyQueueItem) ([]byte, *billing.IssuanceSnapshot, error) {
	raw := []byte(item.PayloadSnapshot)
	if len(item.EncryptedPayload) > 0 {
		if e.cipher == nil {
			return nil, nil, fmt.Errorf("%w: snapshot cifrado sin clave configurada", domain.ErrMalformedPayload)
		}
		plain, err := e.cipher.Decrypt(item.EncryptedPayload)
		if err != nil {
			return nil, nil, err
		}
		raw = plain
	}
	if len(raw) == 0 {
		return nil, nil, fmt.Errorf("%w: ítem sin snapshot", domain.ErrMalformedPayload)
	}
	snap, err := billing.DecodeSnapshot(raw)
	if err != nil {
		return nil, nil, err
	}
	return raw, snap, nil
}

func (e *Engine) succeed(ctx context.Context, doc *entity.FiscalDocument, item *entity.ContingencyQueueItem, snap *billing.IssuanceSnapshot, res *billing.ProviderResult, log zerolog.Logger) (itemOutcome, error) {
	now := e.clock.Now()
	prev := doc.Status
	if err := billing.AttachProviderSnapshot(doc, res, e.cipher); err != nil {
		log.Warn().Err(err).Msg("contingencia: no se pudo cifrar la respuesta del proveedor")
	}
	if _, err := fiscal.Apply(doc, item, billing.SentOutcome(res, now)); err != nil {
		return outcomeError, err
	}
	if err := e.persist(ctx, doc, prev, item, true); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return e.resolveConflict(ctx, item, log)
		}
		return outcomeError, err
	}

	latency := now.Sub(item.CreatedAt)
	e.metrics.recordLatency(latency)
	log.Info().Str("number", doc.Number).Dur("latency", latency).Msg("contingencia: documento sincronizado")

	if err := billing.SaveOfficialArtifacts(ctx, e.artifacts, e.repos.Files, doc, snap, res, now); err != nil {
		// El documento ya está SENT; el PDF oficial se regenera en la próxima consulta idempotente.
		log.Error().Err(err).Msg("contingencia: no se pudo guardar la representación oficial")
	}
	return outcomeSynced, nil
}

func (e *Engine) requeue(ctx context.Context, doc *entity.FiscalDocument, item *entity.ContingencyQueueItem, cause error, log zerolog.Logger) (itemOutcome, error) {
	prev := doc.Status
	if _, err := fiscal.Apply(doc, item, fiscal.Outcome{
		Status: entity.FiscalStatusOfflinePending, At: e.clock.Now(), ErrorDetail: cause.Error(),
	}); err != nil {
		return outcomeError, err
	}
	if err := e.persist(ctx, doc, prev, item, false); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return e.resolveConflict(ctx, item, log)
		}
		return outcomeError, err
	}
	log.Warn().Err(cause).Int("attempt", item.SyncAttempts).Msg("contingencia: fallo transitorio, se reencola")
	return outcomeRequeued, nil
}

func (e *Engine) fail(ctx context.Context, doc *entity.FiscalDocument, item *entity.ContingencyQueueItem, reason string, log zerolog.Logger) (itemOutcome, error) {
	prev := doc.Status
	if _, err := fiscal.Apply(doc, item, fiscal.Outcome{
		Status: entity.FiscalStatusFailed, At: e.clock.Now(), ErrorDetail: reason,
	}); err != nil {
		return outcomeError, err
	}
	if err := e.persist(ctx, doc, prev, item, false); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return e.resolveConflict(ctx, item, log)
		}
		return outcomeError, err
	}
	log.Error().Str("reason", doc.ErrorDetail).Msg("contingencia: documento FAILED")

	if e.dlq != nil {
		dl := DeadLetter{
			DocumentID:     doc.ID,
			CompanyID:      doc.CompanyID,
			IdempotencyKey: doc.IdempotencyKey,
			Attempts:       item.SyncAttempts,
			Reason:         doc.ErrorDetail,
			FailedAt:       e.clock.Now(),
		}
		if err := e.dlq.Push(ctx, dl); err != nil {
			log.Error().Err(err).Msg("contingencia: no se pudo enviar a la DLQ")
		}
	}
	return outcomeFailed, nil
}

// resolveConflict el documento cambió bajo nuestros pies (webhook). Si ya quedó aceptado,
// el ítem se elimina; si no, se deja para la próxima pasada.
func (e *Engine) resolveConflict(ctx context.Context, item *entity.ContingencyQueueItem, log zerolog.Logger) (itemOutcome, error) {
	fresh, err := e.repos.Documents.GetByID(ctx, item.DocumentID)
	if err != nil {
		return outcomeError, err
	}
	if fresh == nil || fresh.IsDurablyAccepted() {
		if err := e.repos.Queue.Delete(ctx, item.ID); err != nil {
			return outcomeError, err
		}
		log.Info().Msg("contingencia: documento confirmado por otra vía, ítem eliminado")
		return outcomeOrphan, nil
	}
	return outcomeSkipped, nil
}

// persist guarda documento (compare-and-set sobre prev) e ítem en una transacción.
func (e *Engine) persist(ctx context.Context, doc *entity.FiscalDocument, prev string, item *entity.ContingencyQueueItem, deleteItem bool) error {
	return e.tx.RunFiscal(ctx, func(r billing.FiscalRepos) error {
		if err := r.Documents.Update(ctx, doc, prev); err != nil {
			return err
		}
		if deleteItem || fiscal.ItemShouldBeDeleted(doc.Status) {
			return r.Queue.Delete(ctx, item.ID)
		}
		return r.Queue.Update(ctx, item)
	})
}

// Stats métricas + conteo de la cola por estado.
func (e *Engine) Stats(ctx context.Context) (*dto.ContingencyStatsResponse, error) {
	s := e.metrics.Snapshot()
	counts, err := e.repos.Queue.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("contingencia: contar cola: %w", err)
	}
	return &dto.ContingencyStatsResponse{
		Enabled:       e.Enabled(),
		Runs:          s.Runs,
		Synced:        s.Synced,
		Requeued:      s.Requeued,
		Failed:        s.Failed,
		Skipped:       s.Skipped,
		Orphans:       s.Orphans,
		LastLatencyMs: s.LastLatencyMs,
		AvgLatencyMs:  s.AvgLatencyMs,
		LastRunAt:     s.LastRunAt,
		QueueByStatus: counts,
	}, nil
}
