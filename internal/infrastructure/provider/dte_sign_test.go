package provider_test

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ucarion/c14n"

	"github.com/jhoicas/Facturacion-api/internal/application/billing"
	"github.com/jhoicas/Facturacion-api/internal/infrastructure/provider"
)

func selfSignedRSA(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tpl := &x509.Certificate{
		SerialNumber: big.NewInt(42),
		Subject:      pkix.Name{CommonName: "76.123.456-7"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &key.PublicKey, key)
	require.NoError(t, err)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func unsignedDTE(t *testing.T) []byte {
	t.Helper()
	snap, err := billing.DecodeSnapshot(snapshotJSON(t))
	require.NoError(t, err)
	raw, _, err := provider.BuildDTE(snap)
	require.NoError(t, err)
	return raw
}

func canon(t *testing.T, el *etree.Element) []byte {
	t.Helper()
	doc := etree.NewDocument()
	doc.SetRoot(el)
	raw, err := doc.WriteToBytes()
	require.NoError(t, err)
	dec := xml.NewDecoder(bytes.NewReader(raw))
	out, err := c14n.Canonicalize(dec)
	require.NoError(t, err)
	return out
}

func TestSignDTE_EnvelopedSignatureVerifies(t *testing.T) {
	cert := selfSignedRSA(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	signed, err := provider.SignDTE(unsignedDTE(t), cert, at)
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(signed))
	root := doc.Root()
	require.Equal(t, "DTE", root.Tag)
	sig := root.SelectElement("Signature")
	require.NotNil(t, sig, "la firma va como hijo de <DTE>")
	assert.Equal(t, "2026-03-01T10:00:00Z", sig.FindElement("./Object/SigningTime").Text())

	// Digest de <Documento> coincide con la Reference.
	documento := root.SelectElement("Documento")
	require.NotNil(t, documento)
	digest, err := provider.DocumentoDigest(documento)
	require.NoError(t, err)
	assert.Equal(t, digest, sig.FindElement("./SignedInfo/Reference/DigestValue").Text())
	assert.Equal(t, "#DOC-d-1", sig.FindElement("./SignedInfo/Reference").SelectAttrValue("URI", ""))

	// SignatureValue verifica con la llave pública del certificado embebido.
	certDER, err := base64.StdEncoding.DecodeString(sig.FindElement("./KeyInfo/X509Data/X509Certificate").Text())
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(certDER)
	require.NoError(t, err)

	si := sig.SelectElement("SignedInfo").Copy()
	si.CreateAttr("xmlns", provider.NamespaceDS)
	h := sha256.Sum256(canon(t, si))
	sigValue, err := base64.StdEncoding.DecodeString(sig.SelectElement("SignatureValue").Text())
	require.NoError(t, err)
	assert.NoError(t, rsa.VerifyPKCS1v15(leaf.PublicKey.(*rsa.PublicKey), crypto.SHA256, h[:], sigValue))
}

func TestSignDTE_Errors(t *testing.T) {
	cert := selfSignedRSA(t)
	now := time.Now()

	_, err := provider.SignDTE(nil, cert, now)
	assert.Error(t, err)

	_, err = provider.SignDTE([]byte("<Otro/>"), cert, now)
	assert.Error(t, err)

	_, err = provider.SignDTE([]byte(`<DTE><Documento/></DTE>`), cert, now)
	assert.Error(t, err, "Documento sin ID")

	signed, err := provider.SignDTE(unsignedDTE(t), cert, now)
	require.NoError(t, err)
	_, err = provider.SignDTE(signed, cert, now)
	assert.Error(t, err, "doble firma")

	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	_, err = provider.SignDTE(unsignedDTE(t), tls.Certificate{Certificate: cert.Certificate, PrivateKey: ecKey}, now)
	assert.Error(t, err, "solo RSA")
}

func TestHTTPClient_SignsWithClientCertificate(t *testing.T) {
	cert := selfSignedRSA(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "<SignatureValue>")
		sum := sha256.Sum256(body)
		assert.Equal(t, "sha-256="+base64.StdEncoding.EncodeToString(sum[:]), r.Header.Get(provider.DigestHeader))
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "p-1", "number": "33-1", "status": "sent"})
	}))
	t.Cleanup(srv.Close)

	c, err := provider.NewHTTPClient(provider.HTTPConfig{BaseURL: srv.URL, Timeout: 2 * time.Second, ClientCert: &cert})
	require.NoError(t, err)
	res, err := c.IssueInvoice(context.Background(), snapshotJSON(t), "k")
	require.NoError(t, err)
	assert.Equal(t, "33-1", res.Number)
	assert.True(t, strings.HasPrefix(res.ProviderDocumentID, "p-"))
}
