// Package memstore implementa los repositorios en memoria con las mismas restricciones
// de unicidad y compare-and-set que PostgreSQL. Se usa en tests y con DB_DRIVER=memory.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/jhoicas/Facturacion-api/internal/application/billing"
	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
	"github.com/jhoicas/Facturacion-api/internal/domain/repository"
)

type fileRow struct {
	seq  int64
	file entity.DocumentFile
}

type state struct {
	docs      map[string]entity.FiscalDocument
	queue     map[string]entity.ContingencyQueueItem
	files     map[string]fileRow
	nonFiscal map[string]entity.NonFiscalDocument
	sequences map[string]int64
	companies map[string]entity.Company
	fileSeq   int64
}

func newState() *state {
	return &state{
		docs:      map[string]entity.FiscalDocument{},
		queue:     map[string]entity.ContingencyQueueItem{},
		files:     map[string]fileRow{},
		nonFiscal: map[string]entity.NonFiscalDocument{},
		sequences: map[string]int64{},
		companies: map[string]entity.Company{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.docs {
		c.docs[k] = v
	}
	for k, v := range s.queue {
		c.queue[k] = v
	}
	for k, v := range s.files {
		c.files[k] = v
	}
	for k, v := range s.nonFiscal {
		c.nonFiscal[k] = v
	}
	for k, v := range s.sequences {
		c.sequences[k] = v
	}
	for k, v := range s.companies {
		c.companies[k] = v
	}
	c.fileSeq = s.fileSeq
	return c
}

// Store contenedor de datos en memoria.
// Las transacciones se serializan (txMu) y trabajan sobre una copia que se publica al confirmar.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	st   *state
}

// New crea un store vacío.
func New() *Store { return &Store{st: newState()} }

// access abstrae el acceso al estado: directo (con locks) o dentro de una tx.
type access interface {
	read(fn func(*state))
	write(fn func(*state) error) error
}

type direct struct{ s *Store }

func (d direct) read(fn func(*state)) {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()
	fn(d.s.st)
}

func (d direct) write(fn func(*state) error) error {
	d.s.txMu.Lock()
	defer d.s.txMu.Unlock()
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	return fn(d.s.st)
}

type inTx struct{ st *state }

func (t inTx) read(fn func(*state))              { fn(t.st) }
func (t inTx) write(fn func(*state) error) error { return fn(t.st) }

// Repos repositorios fuera de transacción.
func (s *Store) Repos() billing.FiscalRepos { return reposFor(direct{s}) }

func reposFor(a access) billing.FiscalRepos {
	return billing.FiscalRepos{
		Documents: &FiscalDocumentRepo{a: a},
		Queue:     &QueueRepo{a: a},
		Files:     &FileRepo{a: a},
		Sequences: &SequenceRepo{a: a},
	}
}

// NonFiscal repositorio de documentos no fiscales.
func (s *Store) NonFiscal() repository.NonFiscalDocumentRepository {
	return &NonFiscalRepo{a: direct{s}}
}

// Companies repositorio de empresas.
func (s *Store) Companies() *CompanyRepo { return &CompanyRepo{a: direct{s}} }

// Sequences acceso directo a los correlativos (importación).
func (s *Store) Sequences() *SequenceRepo { return &SequenceRepo{a: direct{s}} }

// RunFiscal implementa billing.FiscalTxRunner.
func (s *Store) RunFiscal(ctx context.Context, fn func(r billing.FiscalRepos) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	work := s.st.clone()
	s.mu.RUnlock()

	if err := fn(reposFor(inTx{work})); err != nil {
		return err
	}
	s.mu.Lock()
	s.st = work
	s.mu.Unlock()
	return nil
}

var _ billing.FiscalTxRunner = (*Store)(nil)

// CountDocuments número de documentos fiscales registrados.
func (s *Store) CountDocuments() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.st.docs)
}

// CountQueueItems número de ítems en la cola de contingencia.
func (s *Store) CountQueueItems() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.st.queue)
}

// ── FiscalDocument ────────────────────────────────────────────────────────────

// FiscalDocumentRepo implementa repository.FiscalDocumentRepository.
type FiscalDocumentRepo struct{ a access }

func (r *FiscalDocumentRepo) Create(_ context.Context, doc *entity.FiscalDocument) error {
	return r.a.write(func(s *state) error {
		for _, d := range s.docs {
			if d.IdempotencyKey == doc.IdempotencyKey {
				return domain.ErrDuplicate
			}
			if d.CompanyID == doc.CompanyID && d.ProvisionalNumber == doc.ProvisionalNumber {
				return domain.ErrDuplicate
			}
		}
		if _, ok := s.docs[doc.ID]; ok {
			return domain.ErrDuplicate
		}
		s.docs[doc.ID] = copyDoc(doc)
		return nil
	})
}

func (r *FiscalDocumentRepo) GetByID(_ context.Context, id string) (*entity.FiscalDocument, error) {
	return r.find(func(d *entity.FiscalDocument) bool { return d.ID == id }), nil
}

func (r *FiscalDocumentRepo) GetByIdempotencyKey(_ context.Context, key string) (*entity.FiscalDocument, error) {
	return r.find(func(d *entity.FiscalDocument) bool { return d.IdempotencyKey == key }), nil
}

func (r *FiscalDocumentRepo) GetByProviderDocumentID(_ context.Context, id string) (*entity.FiscalDocument, error) {
	return r.find(func(d *entity.FiscalDocument) bool { return d.ProviderDocumentID == id }), nil
}

func (r *FiscalDocumentRepo) Update(_ context.Context, doc *entity.FiscalDocument, expectedStatus string) error {
	return r.a.write(func(s *state) error {
		cur, ok := s.docs[doc.ID]
		if !ok {
			return domain.ErrNotFound
		}
		if cur.Status != expectedStatus {
			return domain.ErrConflict
		}
		s.docs[doc.ID] = copyDoc(doc)
		return nil
	})
}

func (r *FiscalDocumentRepo) find(match func(*entity.FiscalDocument) bool) *entity.FiscalDocument {
	var out *entity.FiscalDocument
	r.a.read(func(s *state) {
		for _, d := range s.docs {
			if match(&d) {
				c := copyDoc(&d)
				out = &c
				return
			}
		}
	})
	return out
}

func copyDoc(d *entity.FiscalDocument) entity.FiscalDocument {
	c := *d
	c.ID = strings.Clone(d.ID)
	c.CompanyID = strings.Clone(d.CompanyID)
	c.IdempotencyKey = strings.Clone(d.IdempotencyKey)
	c.PayloadHash = strings.Clone(d.PayloadHash)
	c.ProviderDocumentID = strings.Clone(d.ProviderDocumentID)
	if d.LastSyncAt != nil {
		t := *d.LastSyncAt
		c.LastSyncAt = &t
	}
	c.ProviderSnapshot = append([]byte(nil), d.ProviderSnapshot...)
	return c
}

// ── ContingencyQueue ──────────────────────────────────────────────────────────

// QueueRepo implementa repository.ContingencyQueueRepository.
type QueueRepo struct{ a access }

func (r *QueueRepo) Create(_ context.Context, item *entity.ContingencyQueueItem) error {
	return r.a.write(func(s *state) error {
		for _, it := range s.queue {
			if it.IdempotencyKey == item.IdempotencyKey || it.DocumentID == item.DocumentID {
				return domain.ErrDuplicate
			}
		}
		s.queue[item.ID] = copyItem(item)
		return nil
	})
}

func (r *QueueRepo) GetByDocumentID(_ context.Context, documentID string) (*entity.ContingencyQueueItem, error) {
	var out *entity.ContingencyQueueItem
	r.a.read(func(s *state) {
		for _, it := range s.queue {
			if it.DocumentID == documentID {
				c := copyItem(&it)
				out = &c
				return
			}
		}
	})
	return out, nil
}

func (r *QueueRepo) ListPending(_ context.Context, limit int) ([]*entity.ContingencyQueueItem, error) {
	var out []*entity.ContingencyQueueItem
	r.a.read(func(s *state) {
		for _, it := range s.queue {
			if it.Status == entity.FiscalStatusOfflinePending || it.Status == entity.FiscalStatusSyncing {
				c := copyItem(&it)
				out = append(out, &c)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *QueueRepo) Update(_ context.Context, item *entity.ContingencyQueueItem) error {
	return r.a.write(func(s *state) error {
		if _, ok := s.queue[item.ID]; !ok {
			return domain.ErrNotFound
		}
		s.queue[item.ID] = copyItem(item)
		return nil
	})
}

func (r *QueueRepo) Delete(_ context.Context, id string) error {
	return r.a.write(func(s *state) error {
		delete(s.queue, id)
		return nil
	})
}

func (r *QueueRepo) CountByStatus(_ context.Context) (map[string]int, error) {
	out := map[string]int{}
	r.a.read(func(s *state) {
		for _, it := range s.queue {
			out[it.Status]++
		}
	})
	return out, nil
}

func copyItem(it *entity.ContingencyQueueItem) entity.ContingencyQueueItem {
	c := *it
	c.ID = strings.Clone(it.ID)
	c.DocumentID = strings.Clone(it.DocumentID)
	c.CompanyID = strings.Clone(it.CompanyID)
	c.IdempotencyKey = strings.Clone(it.IdempotencyKey)
	if it.LastSyncAt != nil {
		t := *it.LastSyncAt
		c.LastSyncAt = &t
	}
	c.PayloadSnapshot = append([]byte(nil), it.PayloadSnapshot...)
	c.EncryptedPayload = append([]byte(nil), it.EncryptedPayload...)
	return c
}

// ── DocumentFile ──────────────────────────────────────────────────────────────

// FileRepo implementa repository.DocumentFileRepository.
type FileRepo struct{ a access }

func (r *FileRepo) Create(_ context.Context, f *entity.DocumentFile) error {
	return r.a.write(func(s *state) error {
		for _, row := range s.files {
			e := row.file
			if e.DocumentID == f.DocumentID && e.Kind == f.Kind && e.Version == f.Version && e.ContentType == f.ContentType {
				return domain.ErrDuplicate
			}
		}
		s.fileSeq++
		s.files[f.ID] = fileRow{seq: s.fileSeq, file: copyFile(f)}
		return nil
	})
}

func (r *FileRepo) ListByDocument(_ context.Context, documentID string) ([]*entity.DocumentFile, error) {
	rows := r.rows(func(f *entity.DocumentFile) bool { return f.DocumentID == documentID })
	out := make([]*entity.DocumentFile, len(rows))
	for i := range rows {
		c := copyFile(&rows[i].file)
		out[i] = &c
	}
	return out, nil
}

func (r *FileRepo) GetLatest(_ context.Context, documentID, version, contentType string) (*entity.DocumentFile, error) {
	rows := r.rows(func(f *entity.DocumentFile) bool {
		return f.DocumentID == documentID && f.Version == version && (contentType == "" || f.ContentType == contentType)
	})
	if len(rows) == 0 {
		return nil, nil
	}
	c := copyFile(&rows[len(rows)-1].file)
	return &c, nil
}

func (r *FileRepo) rows(match func(*entity.DocumentFile) bool) []fileRow {
	var out []fileRow
	r.a.read(func(s *state) {
		for _, row := range s.files {
			if match(&row.file) {
				out = append(out, row)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func copyFile(f *entity.DocumentFile) entity.DocumentFile {
	c := *f
	if f.PreviousFileID != nil {
		id := *f.PreviousFileID
		c.PreviousFileID = &id
	}
	return c
}

// ── Secuencias ────────────────────────────────────────────────────────────────

// SequenceRepo implementa repository.SequenceRepository.
type SequenceRepo struct{ a access }

func (r *SequenceRepo) Next(_ context.Context, companyID, prefix string) (int64, error) {
	var n int64
	err := r.a.write(func(s *state) error {
		k := companyID + "|" + prefix
		s.sequences[k]++
		n = s.sequences[k]
		return nil
	})
	return n, err
}

// Seed fija el último valor usado; nunca retrocede.
func (r *SequenceRepo) Seed(_ context.Context, companyID, prefix string, lastValue int64) error {
	return r.a.write(func(s *state) error {
		k := companyID + "|" + prefix
		if lastValue > s.sequences[k] {
			s.sequences[k] = lastValue
		}
		return nil
	})
}

// ── NonFiscal / Company ───────────────────────────────────────────────────────

// NonFiscalRepo implementa repository.NonFiscalDocumentRepository.
type NonFiscalRepo struct{ a access }

func (r *NonFiscalRepo) Create(_ context.Context, doc *entity.NonFiscalDocument) error {
	return r.a.write(func(s *state) error {
		if _, ok := s.nonFiscal[doc.ID]; ok {
			return domain.ErrDuplicate
		}
		s.nonFiscal[doc.ID] = *doc
		return nil
	})
}

func (r *NonFiscalRepo) GetByID(_ context.Context, id string) (*entity.NonFiscalDocument, error) {
	var out *entity.NonFiscalDocument
	r.a.read(func(s *state) {
		if d, ok := s.nonFiscal[id]; ok {
			out = &d
		}
	})
	return out, nil
}

// CompanyRepo implementa repository.CompanyRepository.
type CompanyRepo struct{ a access }

// Put registra o reemplaza una empresa.
func (r *CompanyRepo) Put(c *entity.Company) {
	_ = r.a.write(func(s *state) error {
		s.companies[c.ID] = *c
		return nil
	})
}

func (r *CompanyRepo) GetByID(_ context.Context, id string) (*entity.Company, error) {
	var out *entity.Company
	r.a.read(func(s *state) {
		if c, ok := s.companies[id]; ok {
			out = &c
		}
	})
	return out, nil
}

var (
	_ repository.FiscalDocumentRepository    = (*FiscalDocumentRepo)(nil)
	_ repository.ContingencyQueueRepository  = (*QueueRepo)(nil)
	_ repository.DocumentFileRepository      = (*FileRepo)(nil)
	_ repository.SequenceRepository          = (*SequenceRepo)(nil)
	_ repository.SequenceSeeder              = (*SequenceRepo)(nil)
	_ repository.NonFiscalDocumentRepository = (*NonFiscalRepo)(nil)
	_ repository.CompanyRepository           = (*CompanyRepo)(nil)
)
