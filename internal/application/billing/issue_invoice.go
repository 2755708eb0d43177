package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jhoicas/Facturacion-api/internal/application/dto"
	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
	"github.com/jhoicas/Facturacion-api/internal/domain/fiscal"
	"github.com/jhoicas/Facturacion-api/internal/domain/repository"
)

// Valores de connectivity_hint que fuerzan la contingencia.
const (
	HintUnavailable = "unavailable"
	HintOffline     = "offline"
)

// IssuanceConfig parámetros del coordinador.
type IssuanceConfig struct {
	ProviderTimeout time.Duration
	// RetryUnclassified encola errores no clasificados del proveedor en vez de marcarlos FAILED.
	RetryUnclassified bool
}

// IssuanceCoordinator decide la ruta online/contingencia y garantiza una sola emisión
// lógica por Idempotency-Key.
type IssuanceCoordinator struct {
	repos     FiscalRepos
	tx        FiscalTxRunner
	companies repository.CompanyRepository
	provider  ProviderClient
	artifacts *Artifacts
	cipher    PayloadCipher
	clock     Clock
	cfg       IssuanceConfig
	log       zerolog.Logger
}

// NewIssuanceCoordinator provider y cipher pueden ser nil (sin proveedor / sin cifrado).
func NewIssuanceCoordinator(
	repos FiscalRepos,
	tx FiscalTxRunner,
	companies repository.CompanyRepository,
	provider ProviderClient,
	artifacts *Artifacts,
	cipher PayloadCipher,
	clock Clock,
	cfg IssuanceConfig,
	log zerolog.Logger,
) *IssuanceCoordinator {
	if clock == nil {
		clock = SystemClock{}
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 15 * time.Second
	}
	return &IssuanceCoordinator{
		repos:     repos,
		tx:        tx,
		companies: companies,
		provider:  provider,
		artifacts: artifacts,
		cipher:    cipher,
		clock:     clock,
		cfg:       cfg,
		log:       log,
	}
}

// IssueInvoice emite un documento fiscal.
//
// Retorna:
//   - (view, nil)                      emitido (SENT) o en contingencia (offline=true).
//   - domain.ErrInvalidInput           request inválido, sin efectos.
//   - domain.ErrIdempotencyConflict    la clave ya existe con otro payload.
//   - (view, *domain.ProviderError)    rechazo permanente; el documento queda FAILED.
//   - (view, domain.ErrUnexpectedProvider) error no clasificado (si no se reintenta).
//   - domain.ErrStorage                el documento quedó registrado pero su PDF no se pudo guardar.
func (uc *IssuanceCoordinator) IssueInvoice(
	ctx context.Context,
	companyID string,
	req *dto.IssueInvoiceRequest,
	idempotencyKey string,
	forceOffline bool,
	connectivityHint string,
) (*dto.FiscalDocumentResponse, error) {
	// ── 1. Validación ─────────────────────────────────────────────────────────
	if companyID == "" {
		return nil, fmt.Errorf("%w: empresa requerida", domain.ErrInvalidInput)
	}
	if req == nil {
		return nil, fmt.Errorf("%w: body requerido", domain.ErrInvalidInput)
	}
	normalized := NormalizeIssueRequest(req)
	key := strings.TrimSpace(idempotencyKey)
	if err := ValidateIssueRequest(&normalized, key); err != nil {
		return nil, err
	}
	hash := PayloadHash(&normalized)
	log := uc.log.With().Str("idempotency_key", key).Str("company_id", companyID).Logger()

	// ── 2. Idempotencia ───────────────────────────────────────────────────────
	existing, err := uc.repos.Documents.GetByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("billing: buscar por idempotency key: %w", err)
	}
	if existing != nil {
		return uc.replay(ctx, companyID, existing, hash, &normalized)
	}

	// ── 3. Ruta ───────────────────────────────────────────────────────────────
	offline, reason := uc.offlineReason(forceOffline, connectivityHint)
	company := uc.loadCompany(ctx, companyID, log)

	now := uc.clock.Now()
	lines := BuildLines(normalized.Items)
	totals := ComputeTotals(normalized.TaxMode, lines)
	prefix := normalized.Prefix
	if prefix == "" {
		prefix = DefaultPrefix(normalized.DocumentType)
	}

	doc := &entity.FiscalDocument{
		ID:             uuid.NewString(),
		CompanyID:      companyID,
		DocumentType:   normalized.DocumentType,
		TaxMode:        normalized.TaxMode,
		Status:         entity.FiscalStatusProcessing,
		IdempotencyKey: key,
		PayloadHash:    hash,
		SaleReference:  normalized.SaleReference,
		NetAmount:      totals.Net,
		ExemptAmount:   totals.Exempt,
		TaxAmount:      totals.Tax,
		TotalAmount:    totals.Total,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if offline {
		doc.Status = entity.FiscalStatusOfflinePending
		doc.Offline = true
		doc.ErrorDetail = reason
	}

	// ── 4. Registro (folio provisional + documento [+ cola]) ──────────────────
	var (
		snap    *IssuanceSnapshot
		snapRaw []byte
	)
	err = uc.tx.RunFiscal(ctx, func(r FiscalRepos) error {
		seq, err := r.Sequences.Next(ctx, companyID, prefix)
		if err != nil {
			return fmt.Errorf("asignar folio provisional: %w", err)
		}
		doc.ProvisionalNumber = entity.FormatProvisionalNumber(prefix, seq)
		if err := r.Documents.Create(ctx, doc); err != nil {
			return err
		}
		snap = buildSnapshot(doc, company, &normalized, lines, totals)
		snapRaw, err = json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("serializar snapshot: %w", err)
		}
		if !offline {
			return nil
		}
		return uc.enqueue(ctx, r.Queue, doc, snapRaw)
	})
	if errors.Is(err, domain.ErrDuplicate) {
		// Carrera con otra petición de la misma clave: gana la que insertó primero.
		log.Debug().Msg("idempotency key ya registrada por una petición concurrente")
		return uc.resolveRace(ctx, companyID, key, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("billing: registrar documento: %w", err)
	}
	log = log.With().Str("document_id", doc.ID).Logger()

	// A partir de aquí el documento existe: la cancelación del caller no debe dejarlo a medias.
	pctx := context.WithoutCancel(ctx)

	if offline {
		log.Info().Str("reason", reason).Msg("documento emitido en contingencia")
		return uc.finishOffline(pctx, doc, snap)
	}

	// ── 5. Emisión online ─────────────────────────────────────────────────────
	callCtx, cancel := context.WithTimeout(ctx, uc.cfg.ProviderTimeout)
	result, perr := uc.provider.IssueInvoice(callCtx, snapRaw, key)
	cancel()

	if perr == nil {
		return uc.finishOnline(pctx, doc, snap, result, log)
	}

	switch classifyProviderError(perr) {
	case providerErrPermanent:
		log.Warn().Err(perr).Msg("documento rechazado por el proveedor")
		doc, _, err = SaveTransition(pctx, uc.repos.Documents, doc, fiscal.Outcome{
			Status: entity.FiscalStatusFailed, At: uc.clock.Now(), ErrorDetail: perr.Error(),
		})
		if err != nil {
			return nil, fmt.Errorf("billing: marcar FAILED: %w", err)
		}
		view, verr := uc.view(pctx, doc)
		if verr != nil {
			return nil, verr
		}
		return view, perr
	case providerErrUnclassified:
		if !uc.cfg.RetryUnclassified {
			log.Error().Err(perr).Msg("error no clasificado del proveedor")
			doc, _, err = SaveTransition(pctx, uc.repos.Documents, doc, fiscal.Outcome{
				Status: entity.FiscalStatusFailed, At: uc.clock.Now(), ErrorDetail: perr.Error(),
			})
			if err != nil {
				return nil, fmt.Errorf("billing: marcar FAILED: %w", err)
			}
			view, verr := uc.view(pctx, doc)
			if verr != nil {
				return nil, verr
			}
			return view, fmt.Errorf("%w: %v", domain.ErrUnexpectedProvider, perr)
		}
	}

	// Transitorio (o no clasificado con reintento habilitado): contingencia.
	log.Warn().Err(perr).Msg("proveedor no disponible, documento pasa a contingencia")
	return uc.fallbackOffline(pctx, doc, snapRaw, snap, perr.Error())
}

// ── Rutas ─────────────────────────────────────────────────────────────────────

func (uc *IssuanceCoordinator) offlineReason(forceOffline bool, hint string) (bool, string) {
	hint = strings.ToLower(strings.TrimSpace(hint))
	switch {
	case forceOffline:
		return true, ""
	case hint == HintUnavailable || hint == HintOffline:
		return true, ""
	case uc.provider == nil:
		return true, "sin proveedor configurado"
	}
	if av, ok := uc.provider.(ProviderAvailability); ok && !av.Available() {
		return true, "circuit breaker del proveedor abierto"
	}
	return false, ""
}

// enqueue crea el ítem de cola con el snapshot inmutable (solo cifrado si hay clave).
func (uc *IssuanceCoordinator) enqueue(ctx context.Context, queue repository.ContingencyQueueRepository, doc *entity.FiscalDocument, snapRaw []byte) error {
	item := &entity.ContingencyQueueItem{
		ID:             uuid.NewString(),
		DocumentID:     doc.ID,
		CompanyID:      doc.CompanyID,
		IdempotencyKey: doc.IdempotencyKey,
		Status:         entity.FiscalStatusOfflinePending,
		ErrorDetail:    doc.ErrorDetail,
		CreatedAt:      doc.UpdatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
	if uc.cipher != nil {
		enc, err := uc.cipher.Encrypt(snapRaw)
		if err != nil {
			return fmt.Errorf("cifrar snapshot: %w", err)
		}
		item.EncryptedPayload = enc
	} else {
		item.PayloadSnapshot = append([]byte(nil), snapRaw...)
	}
	if err := queue.Create(ctx, item); err != nil {
		return fmt.Errorf("encolar documento: %w", err)
	}
	return nil
}

// finishOffline guarda el PDF LOCAL y devuelve la vista. El documento ya está en cola.
func (uc *IssuanceCoordinator) finishOffline(ctx context.Context, doc *entity.FiscalDocument, snap *IssuanceSnapshot) (*dto.FiscalDocumentResponse, error) {
	if _, err := uc.artifacts.SaveFiscalPDF(ctx, uc.repos.Files, doc, snap, entity.FileVersionLocal, uc.clock.Now()); err != nil {
		return nil, fmt.Errorf("billing: documento %s en contingencia sin PDF local: %w", doc.ID, err)
	}
	return uc.view(ctx, doc)
}

// fallbackOffline PROCESSING → OFFLINE_PENDING tras un fallo transitorio, en la misma tx que el encolado.
func (uc *IssuanceCoordinator) fallbackOffline(ctx context.Context, doc *entity.FiscalDocument, snapRaw []byte, snap *IssuanceSnapshot, detail string) (*dto.FiscalDocumentResponse, error) {
	prev := doc.Status
	working := *doc
	if _, err := fiscal.Apply(&working, nil, fiscal.Outcome{
		Status: entity.FiscalStatusOfflinePending, At: uc.clock.Now(), ErrorDetail: detail,
	}); err != nil {
		return nil, err
	}
	err := uc.tx.RunFiscal(ctx, func(r FiscalRepos) error {
		if err := r.Documents.Update(ctx, &working, prev); err != nil {
			return err
		}
		return uc.enqueue(ctx, r.Queue, &working, snapRaw)
	})
	if errors.Is(err, domain.ErrConflict) {
		// Un webhook llegó antes que la respuesta: prevalece su estado.
		fresh, gerr := uc.repos.Documents.GetByID(ctx, doc.ID)
		if gerr != nil || fresh == nil {
			return nil, fmt.Errorf("billing: releer documento: %w", err)
		}
		return uc.view(ctx, fresh)
	}
	if err != nil {
		return nil, fmt.Errorf("billing: pasar a contingencia: %w", err)
	}
	return uc.finishOffline(ctx, &working, snap)
}

// finishOnline registra SENT y guarda las representaciones oficiales.
func (uc *IssuanceCoordinator) finishOnline(ctx context.Context, doc *entity.FiscalDocument, snap *IssuanceSnapshot, res *ProviderResult, log zerolog.Logger) (*dto.FiscalDocumentResponse, error) {
	if err := AttachProviderSnapshot(doc, res, uc.cipher); err != nil {
		log.Warn().Err(err).Msg("no se pudo cifrar la respuesta del proveedor")
	}
	doc, _, err := SaveTransition(ctx, uc.repos.Documents, doc, SentOutcome(res, uc.clock.Now()))
	if err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
		return nil, fmt.Errorf("billing: marcar SENT: %w", err)
	}
	if err == nil {
		log.Info().Str("number", doc.Number).Msg("documento emitido")
	}
	if doc.Status != entity.FiscalStatusSent && doc.Status != entity.FiscalStatusAccepted {
		return uc.view(ctx, doc)
	}
	if err := SaveOfficialArtifacts(ctx, uc.artifacts, uc.repos.Files, doc, snap, res, uc.clock.Now()); err != nil {
		return nil, fmt.Errorf("billing: documento %s emitido sin representación oficial: %w", doc.ID, err)
	}
	return uc.view(ctx, doc)
}

// AttachProviderSnapshot guarda la respuesta cruda del proveedor en el documento, cifrada
// si hay llave. Si el cifrado falla el campo queda vacío: nunca se persiste en claro
// habiendo llave configurada.
func AttachProviderSnapshot(doc *entity.FiscalDocument, res *ProviderResult, cipher PayloadCipher) error {
	if res == nil || len(res.Raw) == 0 {
		return nil
	}
	if cipher == nil {
		doc.ProviderSnapshot = res.Raw
		return nil
	}
	enc, err := cipher.Encrypt(res.Raw)
	if err != nil {
		doc.ProviderSnapshot = nil
		return err
	}
	doc.ProviderSnapshot = enc
	return nil
}

// SentOutcome transición a SENT con los campos devueltos por el proveedor.
func SentOutcome(res *ProviderResult, at time.Time) fiscal.Outcome {
	out := fiscal.Outcome{Status: entity.FiscalStatusSent, At: at}
	if res != nil {
		out.Number = res.Number
		out.TrackID = res.TrackID
		out.Provider = res.Provider
		out.ProviderDocumentID = res.ProviderDocumentID
	}
	return out
}

// SaveOfficialArtifacts PDF OFFICIAL más el documento oficial del proveedor, si vino.
func SaveOfficialArtifacts(ctx context.Context, a *Artifacts, files repository.DocumentFileRepository, doc *entity.FiscalDocument, snap *IssuanceSnapshot, res *ProviderResult, now time.Time) error {
	if _, err := a.SaveFiscalPDF(ctx, files, doc, snap, entity.FileVersionOfficial, now); err != nil {
		return err
	}
	if res == nil || len(res.OfficialDocument) == 0 {
		return nil
	}
	ct := res.OfficialContentType
	if ct == "" {
		ct = entity.ContentTypeXML
	}
	if existing, err := files.GetLatest(ctx, doc.ID, entity.FileVersionOfficial, ct); err != nil {
		return err
	} else if existing != nil {
		return nil
	}
	name := SafeFilename(doc.DisplayNumber()) + extensionFor(ct)
	_, err := a.Save(ctx, files, doc.CompanyID, doc.ID, entity.FileKindFiscal, entity.FileVersionOfficial, res.OfficialDocument, name, ct, now)
	return err
}

// ── Idempotencia ──────────────────────────────────────────────────────────────

func (uc *IssuanceCoordinator) replay(ctx context.Context, companyID string, doc *entity.FiscalDocument, hash string, normalized *dto.IssueInvoiceRequest) (*dto.FiscalDocumentResponse, error) {
	if doc.CompanyID != companyID || doc.PayloadHash != hash {
		return nil, domain.ErrIdempotencyConflict
	}
	if err := uc.ensureArtifacts(ctx, doc, normalized); err != nil {
		return nil, err
	}
	return uc.view(ctx, doc)
}

func (uc *IssuanceCoordinator) resolveRace(ctx context.Context, companyID, key, hash string) (*dto.FiscalDocumentResponse, error) {
	winner, err := uc.repos.Documents.GetByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("billing: releer documento ganador: %w", err)
	}
	if winner == nil {
		return nil, fmt.Errorf("billing: idempotency key %q duplicada pero no encontrada: %w", key, domain.ErrConflict)
	}
	if winner.CompanyID != companyID || winner.PayloadHash != hash {
		return nil, domain.ErrIdempotencyConflict
	}
	return uc.view(ctx, winner)
}

// ensureArtifacts regenera la representación que un fallo de almacenamiento previo dejó sin guardar.
// El snapshot se reconstruye desde el request repetido (mismo hash).
func (uc *IssuanceCoordinator) ensureArtifacts(ctx context.Context, doc *entity.FiscalDocument, normalized *dto.IssueInvoiceRequest) error {
	var version string
	switch doc.Status {
	case entity.FiscalStatusOfflinePending, entity.FiscalStatusSyncing:
		version = entity.FileVersionLocal
	case entity.FiscalStatusSent, entity.FiscalStatusAccepted:
		version = entity.FileVersionOfficial
	default:
		return nil
	}
	existing, err := uc.repos.Files.GetLatest(ctx, doc.ID, version, entity.ContentTypePDF)
	if err != nil {
		return fmt.Errorf("billing: buscar archivo %s: %w", version, err)
	}
	if existing != nil {
		return nil
	}
	company := uc.loadCompany(ctx, doc.CompanyID, uc.log)
	lines := BuildLines(normalized.Items)
	snap := buildSnapshot(doc, company, normalized, lines, ComputeTotals(doc.TaxMode, lines))
	snap.CapturedAt = doc.CreatedAt
	if _, err := uc.artifacts.SaveFiscalPDF(ctx, uc.repos.Files, doc, snap, version, uc.clock.Now()); err != nil {
		return fmt.Errorf("billing: regenerar PDF %s: %w", version, err)
	}
	uc.log.Info().Str("document_id", doc.ID).Str("version", version).Msg("PDF faltante regenerado")
	return nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func (uc *IssuanceCoordinator) loadCompany(ctx context.Context, companyID string, log zerolog.Logger) *entity.Company {
	if uc.companies != nil {
		c, err := uc.companies.GetByID(ctx, companyID)
		if err == nil && c != nil {
			return c
		}
		if err != nil {
			log.Warn().Err(err).Msg("no se pudo leer la empresa emisora")
		}
	}
	return &entity.Company{ID: companyID}
}

func buildSnapshot(doc *entity.FiscalDocument, company *entity.Company, req *dto.IssueInvoiceRequest, lines []SnapshotLine, totals SnapshotTotals) *IssuanceSnapshot {
	s := &IssuanceSnapshot{
		SchemaVersion:     SnapshotSchemaVersion,
		CompanyID:         doc.CompanyID,
		DocumentID:        doc.ID,
		ProvisionalNumber: doc.ProvisionalNumber,
		DocumentType:      doc.DocumentType,
		TaxMode:           doc.TaxMode,
		SaleReference:     doc.SaleReference,
		Issuer: SnapshotParty{
			TaxID:   company.TaxID,
			Name:    company.Name,
			Address: company.Address,
			Email:   company.Email,
		},
		Lines:      lines,
		Notes:      req.Notes,
		Totals:     totals,
		CapturedAt: doc.CreatedAt,
	}
	if req.Receiver != nil {
		s.Receiver = &SnapshotParty{
			TaxID:   req.Receiver.TaxID,
			Name:    req.Receiver.Name,
			Address: req.Receiver.Address,
			Email:   req.Receiver.Email,
		}
	}
	return s
}

type providerErrKind int

const (
	providerErrTransient providerErrKind = iota
	providerErrPermanent
	providerErrUnclassified
)

func classifyProviderError(err error) providerErrKind {
	var pe *domain.ProviderError
	switch {
	case errors.As(err, &pe):
		if pe.Permanent {
			return providerErrPermanent
		}
		return providerErrTransient
	case errors.Is(err, domain.ErrPermanentProvider):
		return providerErrPermanent
	case errors.Is(err, domain.ErrTransientProvider),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return providerErrTransient
	}
	return providerErrUnclassified
}

// IsPermanentProviderError expuesto para el motor de contingencia.
func IsPermanentProviderError(err error) bool {
	return classifyProviderError(err) == providerErrPermanent
}

// IsTransientProviderError expuesto para el motor de contingencia.
func IsTransientProviderError(err error) bool {
	return classifyProviderError(err) == providerErrTransient
}

func extensionFor(contentType string) string {
	switch contentType {
	case entity.ContentTypePDF:
		return ".pdf"
	case entity.ContentTypeXML, "text/xml":
		return ".xml"
	case "application/json":
		return ".json"
	}
	return ".bin"
}
