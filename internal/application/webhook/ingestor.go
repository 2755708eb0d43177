// Package webhook autentica y aplica las confirmaciones de estado que envía el proveedor.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/Facturacion-api/internal/application/billing"
	"github.com/jhoicas/Facturacion-api/internal/application/dto"
	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
	"github.com/jhoicas/Facturacion-api/internal/domain/fiscal"
	"github.com/jhoicas/Facturacion-api/internal/domain/repository"
)

// Ingestor aplica eventos del proveedor sobre FiscalDocument. Es idempotente: un evento
// repetido o que llega tras un estado terminal no cambia nada.
type Ingestor struct {
	docs      repository.FiscalDocumentRepository
	files     repository.DocumentFileRepository
	provider  billing.ProviderClient
	artifacts *billing.Artifacts
	clock     billing.Clock
	secret    []byte
	tolerance time.Duration
	log       zerolog.Logger
}

// NewIngestor provider puede ser nil (no se descarga la representación oficial).
func NewIngestor(
	docs repository.FiscalDocumentRepository,
	files repository.DocumentFileRepository,
	provider billing.ProviderClient,
	artifacts *billing.Artifacts,
	clock billing.Clock,
	secret string,
	tolerance time.Duration,
	log zerolog.Logger,
) *Ingestor {
	if clock == nil {
		clock = billing.SystemClock{}
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Ingestor{
		docs:      docs,
		files:     files,
		provider:  provider,
		artifacts: artifacts,
		clock:     clock,
		secret:    []byte(secret),
		tolerance: tolerance,
		log:       log,
	}
}

// Verify valida la firma antes de cualquier parseo del body.
func (in *Ingestor) Verify(signatureHeader string, rawBody []byte) error {
	return Verify(in.secret, signatureHeader, rawBody, in.clock.Now(), in.tolerance)
}

// MapStatus traduce el estado del proveedor al vocabulario interno.
func MapStatus(s string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "accepted", "aceptado":
		return entity.FiscalStatusAccepted, true
	case "rejected", "rechazado":
		return entity.FiscalStatusRejected, true
	case "sent", "issued", "emitido":
		return entity.FiscalStatusSent, true
	}
	return "", false
}

// Handle aplica un evento ya autenticado.
func (in *Ingestor) Handle(ctx context.Context, ev *dto.ProviderWebhookEvent) (*dto.WebhookResult, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: evento vacío", domain.ErrInvalidInput)
	}
	target, ok := MapStatus(ev.Status)
	if !ok {
		return nil, fmt.Errorf("%w: estado de webhook desconocido %q", domain.ErrInvalidInput, ev.Status)
	}

	doc, err := in.resolve(ctx, ev)
	if err != nil {
		return nil, err
	}
	log := in.log.With().Str("document_id", doc.ID).Str("target", target).Logger()
	result := &dto.WebhookResult{DocumentID: doc.ID, Status: doc.Status}

	if doc.Status == target || fiscal.IsTerminal(doc.Status) {
		log.Debug().Str("status", doc.Status).Msg("webhook: evento ya aplicado")
		return result, nil
	}

	out := fiscal.Outcome{
		Status:             target,
		At:                 in.clock.Now(),
		Number:             strings.TrimSpace(ev.Number),
		TrackID:            strings.TrimSpace(ev.TrackID),
		Provider:           strings.TrimSpace(ev.Provider),
		ProviderDocumentID: strings.TrimSpace(ev.DocumentID),
	}
	if target == entity.FiscalStatusRejected {
		out.ErrorDetail = strings.Join(ev.Errors, "; ")
		if out.ErrorDetail == "" {
			out.ErrorDetail = "rechazado por la autoridad tributaria"
		}
	}

	doc, changed, err := billing.SaveTransition(ctx, in.docs, doc, out)
	if errors.Is(err, domain.ErrInvalidTransition) {
		result.Status = doc.Status
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("webhook: %w", err)
	}
	result.Status = doc.Status
	result.Applied = changed
	log.Info().Bool("applied", changed).Msg("webhook: estado aplicado")

	if changed && doc.Status == entity.FiscalStatusAccepted {
		in.fetchOfficial(ctx, doc, log)
	}
	return result, nil
}

func (in *Ingestor) resolve(ctx context.Context, ev *dto.ProviderWebhookEvent) (*entity.FiscalDocument, error) {
	if id := strings.TrimSpace(ev.DocumentID); id != "" {
		doc, err := in.docs.GetByProviderDocumentID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("webhook: buscar por documentId: %w", err)
		}
		if doc != nil {
			return doc, nil
		}
	}
	if id := strings.TrimSpace(ev.ExternalID); id != "" {
		doc, err := in.docs.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("webhook: buscar por externalId: %w", err)
		}
		if doc != nil {
			return doc, nil
		}
	}
	return nil, fmt.Errorf("%w: documento del webhook no encontrado", domain.ErrNotFound)
}

// fetchOfficial descarga la representación oficial si aún no existe. Best effort.
func (in *Ingestor) fetchOfficial(ctx context.Context, doc *entity.FiscalDocument, log zerolog.Logger) {
	if in.provider == nil || in.artifacts == nil || doc.ProviderDocumentID == "" {
		return
	}
	existing, err := in.files.GetLatest(ctx, doc.ID, entity.FileVersionOfficial, "")
	if err != nil || existing != nil {
		return
	}
	remote, err := in.provider.FetchDocument(ctx, doc.ProviderDocumentID)
	if err != nil {
		log.Warn().Err(err).Msg("webhook: no se pudo descargar el documento oficial")
		return
	}
	if remote == nil || len(remote.Data) == 0 {
		return
	}
	ct := remote.ContentType
	if ct == "" {
		ct = entity.ContentTypeXML
	}
	name := remote.Filename
	if name == "" {
		ext := ".xml"
		if ct == entity.ContentTypePDF {
			ext = ".pdf"
		}
		name = billing.SafeFilename(doc.DisplayNumber()) + ext
	}
	if _, err := in.artifacts.Save(ctx, in.files, doc.CompanyID, doc.ID, entity.FileKindFiscal, entity.FileVersionOfficial, remote.Data, billing.SafeFilename(strings.TrimSuffix(name, extOf(name)))+extOf(name), ct, in.clock.Now()); err != nil {
		log.Warn().Err(err).Msg("webhook: no se pudo guardar el documento oficial")
	}
}

func extOf(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 && len(name)-i <= 5 {
		return strings.ToLower(name[i:])
	}
	return ""
}
