// Package pdf genera la representación gráfica de los documentos con Maroto v2.
//
// Layout de la página A4:
//
//	┌─────────────────────────────────────────────────────────────┐
//	│  HEADER: Razón Social + RUT  │  Tipo documento + Folio       │
//	│  ─────────────────────────────────────────────────────────  │
//	│  EMISOR: Dirección / Email                                   │
//	│  RECEPTOR: Nombre + RUT (solo si existe)                     │
//	│  ─────────────────────────────────────────────────────────  │
//	│  TABLA: Cant | Descripción | P.Unit | Monto                  │
//	│  ─────────────────────────────────────────────────────────  │
//	│  TOTALES: Neto / Exento / IVA / TOTAL                        │
//	│  ─────────────────────────────────────────────────────────  │
//	│  FOOTER: LOCAL = contingencia │ OFFICIAL = Track ID + QR     │
//	└─────────────────────────────────────────────────────────────┘
package pdf

import (
	"context"
	"fmt"

	maroto "github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/code"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/Facturacion-api/internal/application/billing"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
)

// ── Paleta de colores ─────────────────────────────────────────────────────────

var (
	colorPrimary = &props.Color{Red: 0, Green: 70, Blue: 127}
	colorWarning = &props.Color{Red: 180, Green: 90, Blue: 0}
	colorGray    = &props.Color{Red: 100, Green: 100, Blue: 100}
)

// ── Renderer ──────────────────────────────────────────────────────────────────

// MarotoRenderer implementa billing.DocumentRenderer usando Maroto v2.
type MarotoRenderer struct{}

// NewMarotoRenderer construye el renderer.
func NewMarotoRenderer() *MarotoRenderer { return &MarotoRenderer{} }

var _ billing.DocumentRenderer = (*MarotoRenderer)(nil)

// RenderFiscal genera el PDF LOCAL (folio provisional) u OFFICIAL (folio definitivo).
func (g *MarotoRenderer) RenderFiscal(
	_ context.Context,
	doc *entity.FiscalDocument,
	snap *billing.IssuanceSnapshot,
	version string,
) ([]byte, error) {
	if doc == nil || snap == nil {
		return nil, fmt.Errorf("pdf: documento o snapshot vacío")
	}
	m := newMaroto(documentTitle(doc.DocumentType), snap.Issuer.Name)

	number := doc.ProvisionalNumber
	if version == entity.FileVersionOfficial && doc.Number != "" {
		number = doc.Number
	}

	m.AddRows(headerRow(snap.Issuer, documentTitle(doc.DocumentType), number, doc.CreatedAt.Format("02/01/2006")))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.5}))
	m.AddRows(issuerRow(snap.Issuer))
	if snap.Receiver != nil {
		m.AddRows(receiverRow(*snap.Receiver))
	}
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))

	m.AddRows(tableHeaderRow())
	m.AddRows(tableDetailRows(snap.Lines)...)

	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))
	m.AddRows(totalsRow(snap.Totals))

	m.AddRows(line.NewRow(3))
	m.AddRows(line.NewRow(1, props.Line{Color: colorGray, Thickness: 0.3}))
	if version == entity.FileVersionOfficial {
		m.AddRows(officialFooterRows(doc)...)
	} else {
		m.AddRows(contingencyFooterRows(doc)...)
	}
	if snap.Notes != "" {
		m.AddRows(notesRow(snap.Notes))
	}

	out, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("pdf: generar documento: %w", err)
	}
	return out.GetBytes(), nil
}

// RenderNonFiscal cotizaciones: mismo layout, sin impuestos ni pie tributario.
func (g *MarotoRenderer) RenderNonFiscal(
	_ context.Context,
	doc *entity.NonFiscalDocument,
	company *entity.Company,
	lines []billing.SnapshotLine,
	notes string,
) ([]byte, error) {
	issuer := billing.SnapshotParty{TaxID: company.TaxID, Name: company.Name, Address: company.Address, Email: company.Email}
	m := newMaroto(doc.Title, company.Name)

	ref := doc.Reference
	if ref == "" {
		ref = doc.ID[:min(8, len(doc.ID))]
	}
	m.AddRows(headerRow(issuer, doc.Title, ref, doc.CreatedAt.Format("02/01/2006")))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.5}))
	m.AddRows(issuerRow(issuer))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))
	m.AddRows(tableHeaderRow())
	m.AddRows(tableDetailRows(lines)...)
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))
	m.AddRows(row.New(8).Add(
		col.New(6),
		col.New(3).Add(text.New("TOTAL:", props.Text{Style: fontstyle.Bold, Size: 10, Align: align.Right, Color: colorPrimary, Right: 2})),
		col.New(3).Add(text.New(money(doc.TotalAmount), props.Text{Style: fontstyle.Bold, Size: 10, Align: align.Right, Color: colorPrimary, Right: 1})),
	))
	m.AddRows(line.NewRow(3))
	m.AddRows(row.New(8).Add(col.New(12).Add(
		text.New("Documento sin validez tributaria.", props.Text{Size: 7, Color: colorGray, Top: 2, Align: align.Center}),
	)))
	if notes != "" {
		m.AddRows(notesRow(notes))
	}

	out, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("pdf: generar documento no fiscal: %w", err)
	}
	return out.GetBytes(), nil
}

func newMaroto(title, author string) core.Maroto {
	cfg := config.NewBuilder().
		WithPageSize(pagesize.A4).
		WithLeftMargin(10).WithRightMargin(10).
		WithTopMargin(10).WithBottomMargin(10).
		WithDefaultFont(&props.Font{Family: "helvetica", Size: 9}).
		WithTitle(title, true).
		WithAuthor(nonEmpty(author, "—"), true).
		Build()
	return maroto.New(cfg)
}

// ── Secciones ─────────────────────────────────────────────────────────────────

func headerRow(issuer billing.SnapshotParty, title, number, date string) core.Row {
	return row.New(18).Add(
		col.New(7).Add(
			text.New(nonEmpty(issuer.Name, "—"), props.Text{
				Style: fontstyle.Bold, Size: 13, Color: colorPrimary, Top: 1,
			}),
			text.New("RUT: "+nonEmpty(issuer.TaxID, "—"), props.Text{
				Size: 9, Top: 9, Color: colorGray,
			}),
		),
		col.New(5).Add(
			text.New(title, props.Text{
				Style: fontstyle.Bold, Size: 8, Align: align.Right,
				Color: colorPrimary, Top: 1,
			}),
			text.New("N° "+number, props.Text{
				Style: fontstyle.Bold, Size: 12, Align: align.Right, Top: 7,
			}),
			text.New("Fecha: "+date, props.Text{
				Size: 8, Align: align.Right, Top: 14, Color: colorGray,
			}),
		),
	)
}

func issuerRow(issuer billing.SnapshotParty) core.Row {
	return row.New(12).Add(
		col.New(12).Add(
			text.New("DATOS DEL EMISOR", props.Text{
				Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1,
			}),
			text.New(fmt.Sprintf("Dirección: %s   |   Email: %s",
				nonEmpty(issuer.Address, "—"),
				nonEmpty(issuer.Email, "—"),
			), props.Text{Size: 8, Top: 7, Color: colorGray}),
		),
	)
}

func receiverRow(r billing.SnapshotParty) core.Row {
	return row.New(14).Add(
		col.New(12).Add(
			text.New("RECEPTOR", props.Text{
				Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1,
			}),
			text.New(nonEmpty(r.Name, "—"), props.Text{
				Style: fontstyle.Bold, Size: 10, Top: 6,
			}),
			text.New(fmt.Sprintf("RUT: %s   |   Email: %s",
				nonEmpty(r.TaxID, "—"),
				nonEmpty(r.Email, "—"),
			), props.Text{Size: 8, Top: 12, Color: colorGray}),
		),
	)
}

func tableHeaderRow() core.Row {
	h := func(label string, size int, a align.Type) core.Col {
		return col.New(size).Add(text.New(label, props.Text{
			Style: fontstyle.Bold, Size: 8, Align: a,
			Color: colorPrimary, Top: 2, Left: 1, Right: 1,
		}))
	}
	return row.New(8).Add(
		h("Cant.", 1, align.Center),
		h("Descripción", 6, align.Left),
		h("Precio Unit.", 2, align.Right),
		h("Monto", 3, align.Right),
	)
}

func tableDetailRows(lines []billing.SnapshotLine) []core.Row {
	result := make([]core.Row, 0, len(lines))
	for _, l := range lines {
		result = append(result, row.New(7).Add(
			col.New(1).Add(text.New(l.Quantity.String(), props.Text{Size: 8, Align: align.Center, Top: 1})),
			col.New(6).Add(text.New(l.Description, props.Text{Size: 8, Align: align.Left, Top: 1, Left: 1})),
			col.New(2).Add(text.New(money(l.UnitPrice), props.Text{Size: 8, Align: align.Right, Top: 1, Right: 1})),
			col.New(3).Add(text.New(money(l.Amount), props.Text{Size: 8, Align: align.Right, Top: 1, Right: 1})),
		))
	}
	return result
}

func totalsRow(t billing.SnapshotTotals) core.Row {
	label := func(s string) core.Component {
		return text.New(s, props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right, Right: 2})
	}
	value := func(s string) core.Component {
		return text.New(s, props.Text{Size: 9, Align: align.Right, Right: 1})
	}
	return row.New(26).Add(
		col.New(3),
		col.New(3).Add(
			label("Neto:"),
			label("Exento:"),
			label("IVA (19%):"),
			text.New("TOTAL:", props.Text{Style: fontstyle.Bold, Size: 10, Align: align.Right, Color: colorPrimary, Right: 2}),
		),
		col.New(3).Add(
			value(money(t.Net)),
			value(money(t.Exempt)),
			value(money(t.Tax)),
			text.New(money(t.Total), props.Text{Style: fontstyle.Bold, Size: 10, Align: align.Right, Color: colorPrimary, Right: 1}),
		),
		col.New(3),
	)
}

// contingencyFooterRows leyenda del folio provisional.
func contingencyFooterRows(doc *entity.FiscalDocument) []core.Row {
	return []core.Row{
		row.New(8).Add(col.New(12).Add(
			text.New("DOCUMENTO EMITIDO EN CONTINGENCIA", props.Text{
				Style: fontstyle.Bold, Size: 9, Align: align.Center, Color: colorWarning, Top: 2,
			}),
		)),
		row.New(8).Add(col.New(12).Add(
			text.New(fmt.Sprintf("Folio provisional %s pendiente de confirmación por el proveedor. "+
				"El folio definitivo constará en la versión oficial.", doc.ProvisionalNumber),
				props.Text{Size: 7, Color: colorGray, Top: 1, Align: align.Center}),
		)),
	}
}

// officialFooterRows Track ID + QR de verificación.
func officialFooterRows(doc *entity.FiscalDocument) []core.Row {
	rows := []core.Row{
		row.New(6).Add(col.New(12).Add(
			text.New("INFORMACIÓN ELECTRÓNICA", props.Text{
				Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1,
			}),
		)),
	}
	verify := fmt.Sprintf("%s|%s|%s|%s", doc.CompanyID, doc.DisplayNumber(), doc.TrackID, doc.TotalAmount.StringFixed(0))
	rows = append(rows, row.New(40).Add(
		col.New(3).Add(code.NewQr(verify, props.Rect{Percent: 95, Center: true})),
		col.New(9).Add(
			text.New("Folio: "+doc.DisplayNumber(), props.Text{Style: fontstyle.Bold, Size: 9, Top: 4, Left: 3}),
			text.New("Track ID: "+nonEmpty(doc.TrackID, "—"), props.Text{Size: 8, Top: 11, Left: 3, Color: colorGray}),
			text.New("Proveedor: "+nonEmpty(doc.Provider, "—"), props.Text{Size: 8, Top: 17, Left: 3, Color: colorGray}),
			text.New("Timbre electrónico. Verifique este documento en el portal de la autoridad tributaria.",
				props.Text{Size: 7, Top: 26, Left: 3, Color: colorGray}),
		),
	))
	return rows
}

func notesRow(notes string) core.Row {
	return row.New(10).Add(col.New(12).Add(
		text.New("Observaciones: "+notes, props.Text{Size: 7, Color: colorGray, Top: 2}),
	))
}

// ── helpers ───────────────────────────────────────────────────────────────────

func documentTitle(documentType string) string {
	if documentType == entity.DocumentTypeFactura {
		return "FACTURA ELECTRÓNICA"
	}
	return "BOLETA ELECTRÓNICA"
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

func money(d decimal.Decimal) string {
	s := d.Abs().StringFixed(0)
	if d.IsNegative() {
		return "-$" + formatMoney(s)
	}
	return "$" + formatMoney(s)
}

// formatMoney inserta puntos de miles en un string numérico sin decimales.
// Ej: "25000" → "25.000", "1000000" → "1.000.000"
func formatMoney(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}
	buf := make([]byte, 0, n+n/3)
	for i, c := range []byte(s) {
		if i > 0 && (n-i)%3 == 0 {
			buf = append(buf, '.')
		}
		buf = append(buf, c)
	}
	return string(buf)
}
