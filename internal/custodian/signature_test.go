package custodian

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newSignedBody генерирует ключ, PEM публичной части и подпись тела
func newSignedBody(t *testing.T, body []byte) (string, string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	digest := sha512.Sum512(body)
	signature, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA512, digest[:])
	require.NoError(t, err)

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	return string(pubPEM), base64.StdEncoding.EncodeToString(signature)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"type":"STATUS_UPDATED","data":{"id":"tx-1"}}`)
	pubPEM, signature := newSignedBody(t, body)

	v, err := NewVerifier(pubPEM, false, zap.NewNop())
	require.NoError(t, err)

	assert.NoError(t, v.Verify(body, signature))
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	body := []byte(`{"type":"STATUS_UPDATED","data":{"id":"tx-1"}}`)
	pubPEM, signature := newSignedBody(t, body)

	v, err := NewVerifier(pubPEM, false, zap.NewNop())
	require.NoError(t, err)

	tampered := []byte(`{"type":"STATUS_UPDATED","data":{"id":"tx-2"}}`)
	assert.Error(t, v.Verify(tampered, signature))
}

func TestVerifyRejectsGarbageSignature(t *testing.T) {
	body := []byte(`{}`)
	pubPEM, _ := newSignedBody(t, body)

	v, err := NewVerifier(pubPEM, false, zap.NewNop())
	require.NoError(t, err)

	assert.Error(t, v.Verify(body, "не base64"))
	assert.Error(t, v.Verify(body, base64.StdEncoding.EncodeToString([]byte("мусор"))))
}

func TestVerifierSkipMode(t *testing.T) {
	v, err := NewVerifier("", true, zap.NewNop())
	require.NoError(t, err)

	// В режиме обхода любое тело проходит
	assert.NoError(t, v.Verify([]byte("что угодно"), ""))
}

func TestVerifierRequiresKey(t *testing.T) {
	_, err := NewVerifier("", false, zap.NewNop())
	assert.Error(t, err)

	_, err = NewVerifier("не PEM", false, zap.NewNop())
	assert.Error(t, err)
}
