package provider

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
)

// Algoritmos XMLDSig usados en la firma del DTE.
const (
	NamespaceDS        = "http://www.w3.org/2000/09/xmldsig#"
	AlgC14N            = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	AlgRSASHA256       = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	AlgSHA256          = "http://www.w3.org/2001/04/xmlenc#sha256"
	TransformEnveloped = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
)

// SignDTE firma el <Documento> del DTE (XMLDSig enveloped, RSA-SHA256) e inyecta
// <Signature> como último hijo de <DTE>. Devuelve el XML resultante canonicalizado.
func SignDTE(dteXML []byte, cert tls.Certificate, at time.Time) ([]byte, error) {
	if len(dteXML) == 0 {
		return nil, fmt.Errorf("dte: XML vacío")
	}
	priv, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("dte: el certificado debe incluir llave privada RSA")
	}
	if len(cert.Certificate) == 0 {
		return nil, fmt.Errorf("dte: certificado sin cadena")
	}
	leaf := cert.Leaf
	if leaf == nil {
		parsed, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("dte: parsear certificado: %w", err)
		}
		leaf = parsed
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(dteXML); err != nil {
		return nil, fmt.Errorf("dte: parsear XML: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "DTE" {
		return nil, fmt.Errorf("dte: raíz <DTE> no encontrada")
	}
	if root.SelectElement("Signature") != nil {
		return nil, fmt.Errorf("dte: el documento ya está firmado")
	}
	documento := root.SelectElement("Documento")
	if documento == nil {
		return nil, fmt.Errorf("dte: <Documento> no encontrado")
	}
	refID := documento.SelectAttrValue("ID", "")
	if refID == "" {
		return nil, fmt.Errorf("dte: <Documento> sin atributo ID")
	}

	digestB64, err := DocumentoDigest(documento)
	if err != nil {
		return nil, err
	}

	signedInfo := buildSignedInfo(refID, digestB64)
	canonicalSI, err := canonicalize([]byte(signedInfo))
	if err != nil {
		return nil, fmt.Errorf("dte: canonicalizar SignedInfo: %w", err)
	}
	h := sha256.Sum256(canonicalSI)
	sig, err := rsa.SignPKCS1v15(nil, priv, crypto.SHA256, h[:])
	if err != nil {
		return nil, fmt.Errorf("dte: firmar SignedInfo: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(`<Signature xmlns="` + NamespaceDS + `">`)
	sb.WriteString(signedInfo)
	sb.WriteString(`<SignatureValue>` + base64.StdEncoding.EncodeToString(sig) + `</SignatureValue>`)
	sb.WriteString(`<KeyInfo><X509Data><X509Certificate>`)
	sb.WriteString(base64.StdEncoding.EncodeToString(leaf.Raw))
	sb.WriteString(`</X509Certificate></X509Data></KeyInfo>`)
	sb.WriteString(`<Object><SigningTime>` + at.UTC().Format("2006-01-02T15:04:05Z") + `</SigningTime></Object>`)
	sb.WriteString(`</Signature>`)

	sigDoc := etree.NewDocument()
	if err := sigDoc.ReadFromString(sb.String()); err != nil {
		return nil, fmt.Errorf("dte: parsear Signature: %w", err)
	}
	root.AddChild(sigDoc.Root())

	raw, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("dte: serializar firmado: %w", err)
	}
	out, err := canonicalize(raw)
	if err != nil {
		return nil, fmt.Errorf("dte: canonicalizar firmado: %w", err)
	}
	return out, nil
}

// DocumentoDigest SHA-256 (Base64) de la forma canónica del elemento <Documento>.
func DocumentoDigest(documento *etree.Element) (string, error) {
	sub := etree.NewDocument()
	sub.SetRoot(documento.Copy())
	raw, err := sub.WriteToBytes()
	if err != nil {
		return "", fmt.Errorf("dte: serializar Documento: %w", err)
	}
	canonical, err := canonicalize(raw)
	if err != nil {
		return "", fmt.Errorf("dte: canonicalizar Documento: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

func buildSignedInfo(refID, digestB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<SignedInfo xmlns="` + NamespaceDS + `">`)
	sb.WriteString(`<CanonicalizationMethod Algorithm="` + AlgC14N + `"/>`)
	sb.WriteString(`<SignatureMethod Algorithm="` + AlgRSASHA256 + `"/>`)
	sb.WriteString(`<Reference URI="#` + refID + `">`)
	sb.WriteString(`<Transforms><Transform Algorithm="` + TransformEnveloped + `"/></Transforms>`)
	sb.WriteString(`<DigestMethod Algorithm="` + AlgSHA256 + `"/>`)
	sb.WriteString(`<DigestValue>` + digestB64 + `</DigestValue>`)
	sb.WriteString(`</Reference>`)
	sb.WriteString(`</SignedInfo>`)
	return sb.String()
}
