package provider

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/xml"
	"fmt"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/ucarion/c14n"

	"github.com/jhoicas/Facturacion-api/internal/application/billing"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
)

// Códigos de tipo de DTE.
const (
	TipoFacturaAfecta = 33
	TipoFacturaExenta = 34
	TipoBoletaAfecta  = 39
	TipoBoletaExenta  = 41
)

// TipoDTE código del documento según tipo y modalidad tributaria.
func TipoDTE(documentType, taxMode string) int {
	exenta := taxMode == entity.TaxModeExenta
	if documentType == entity.DocumentTypeFactura {
		if exenta {
			return TipoFacturaExenta
		}
		return TipoFacturaAfecta
	}
	if exenta {
		return TipoBoletaExenta
	}
	return TipoBoletaAfecta
}

// BuildDTE arma el XML del DTE a partir del snapshot y lo devuelve canonicalizado (C14N)
// junto con su digest SHA-256 en Base64.
func BuildDTE(snap *billing.IssuanceSnapshot) (canonical []byte, digestB64 string, err error) {
	if snap == nil {
		return nil, "", fmt.Errorf("dte: snapshot vacío")
	}
	doc := etree.NewDocument()
	dte := doc.CreateElement("DTE")
	dte.CreateAttr("version", "1.0")

	documento := dte.CreateElement("Documento")
	documento.CreateAttr("ID", "DOC-"+snap.DocumentID)

	enc := documento.CreateElement("Encabezado")
	idDoc := enc.CreateElement("IdDoc")
	idDoc.CreateElement("TipoDTE").SetText(fmt.Sprint(TipoDTE(snap.DocumentType, snap.TaxMode)))
	idDoc.CreateElement("FolioProvisional").SetText(snap.ProvisionalNumber)
	idDoc.CreateElement("FchEmis").SetText(snap.CapturedAt.Format("2006-01-02"))
	if snap.SaleReference != "" {
		idDoc.CreateElement("RefVenta").SetText(snap.SaleReference)
	}

	emisor := enc.CreateElement("Emisor")
	emisor.CreateElement("RUTEmisor").SetText(snap.Issuer.TaxID)
	emisor.CreateElement("RznSoc").SetText(snap.Issuer.Name)
	if snap.Issuer.Address != "" {
		emisor.CreateElement("DirOrigen").SetText(snap.Issuer.Address)
	}

	if snap.Receiver != nil {
		rec := enc.CreateElement("Receptor")
		rec.CreateElement("RUTRecep").SetText(snap.Receiver.TaxID)
		rec.CreateElement("RznSocRecep").SetText(snap.Receiver.Name)
		if snap.Receiver.Address != "" {
			rec.CreateElement("DirRecep").SetText(snap.Receiver.Address)
		}
		if snap.Receiver.Email != "" {
			rec.CreateElement("CorreoRecep").SetText(snap.Receiver.Email)
		}
	}

	tot := enc.CreateElement("Totales")
	if snap.Totals.Net.IsPositive() {
		tot.CreateElement("MntNeto").SetText(amount(snap.Totals.Net))
		tot.CreateElement("TasaIVA").SetText(billing.TaxRateIVA.Mul(decimal.NewFromInt(100)).StringFixed(0))
		tot.CreateElement("IVA").SetText(amount(snap.Totals.Tax))
	}
	if snap.Totals.Exempt.IsPositive() {
		tot.CreateElement("MntExe").SetText(amount(snap.Totals.Exempt))
	}
	tot.CreateElement("MntTotal").SetText(amount(snap.Totals.Total))

	for i, l := range snap.Lines {
		det := documento.CreateElement("Detalle")
		det.CreateElement("NroLinDet").SetText(fmt.Sprint(i + 1))
		if l.Code != "" {
			det.CreateElement("CdgItem").SetText(l.Code)
		}
		if snap.TaxMode == entity.TaxModeExenta {
			det.CreateElement("IndExe").SetText("1")
		}
		det.CreateElement("NmbItem").SetText(l.Description)
		det.CreateElement("QtyItem").SetText(l.Quantity.String())
		det.CreateElement("PrcItem").SetText(l.UnitPrice.String())
		det.CreateElement("MontoItem").SetText(amount(l.Amount))
	}

	raw, err := doc.WriteToBytes()
	if err != nil {
		return nil, "", fmt.Errorf("dte: serializar: %w", err)
	}
	canonical, err = canonicalize(raw)
	if err != nil {
		return nil, "", fmt.Errorf("dte: canonicalizar: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return canonical, base64.StdEncoding.EncodeToString(sum[:]), nil
}

func canonicalize(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}

func amount(d decimal.Decimal) string {
	if d.Equal(d.Truncate(0)) {
		return d.StringFixed(0)
	}
	return d.StringFixed(2)
}
