package webhook

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"titan-pay/internal/custodian"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeReconciler записывает полученные уведомления
type fakeReconciler struct {
	received []*custodian.Notification
	err      error
}

func (f *fakeReconciler) ProcessNotification(ctx context.Context, n *custodian.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.received = append(f.received, n)
	return nil
}

const validBody = `{
	"type": "STATUS_UPDATED",
	"data": {
		"id": "tx-1",
		"status": "COMPLETED",
		"assetId": "BTC",
		"destination": {"type": "VAULT_ACCOUNT", "id": "v-1"},
		"destinationAddress": "addr-1",
		"amountInfo": {"amount": "0.01", "amountUSD": "500.00"}
	}
}`

func newSignedHandler(t *testing.T) (*CustodianWebhookHandler, *fakeReconciler, *rsa.PrivateKey) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	verifier, err := custodian.NewVerifier(string(pemKey), false, zap.NewNop())
	require.NoError(t, err)

	rec := &fakeReconciler{}
	return NewCustodianWebhookHandler(rec, verifier, zap.NewNop()), rec, key
}

func sign(t *testing.T, key *rsa.PrivateKey, body string) string {
	t.Helper()

	digest := sha512.Sum512([]byte(body))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA512, digest[:])
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(sig)
}

func post(handler *CustodianWebhookHandler, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/custodian", bytes.NewBufferString(body))
	if signature != "" {
		req.Header.Set("Fireblocks-Signature", signature)
	}
	w := httptest.NewRecorder()
	handler.HandleWebhook(w, req)
	return w
}

func TestHandleWebhook(t *testing.T) {
	handler, rec, key := newSignedHandler(t)

	w := post(handler, validBody, sign(t, key, validBody))

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, rec.received, 1)
	assert.Equal(t, "tx-1", rec.received[0].Data.ID)
}

func TestHandleWebhookRejectsMethod(t *testing.T) {
	handler, rec, _ := newSignedHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/webhook/custodian", nil)
	w := httptest.NewRecorder()
	handler.HandleWebhook(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Empty(t, rec.received)
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	handler, rec, key := newSignedHandler(t)

	// Подпись от другого тела не проходит
	w := post(handler, validBody, sign(t, key, `{"подмененное":"тело"}`))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, rec.received)
}

func TestHandleWebhookRejectsMissingSignature(t *testing.T) {
	handler, rec, _ := newSignedHandler(t)

	w := post(handler, validBody, "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, rec.received)
}

func TestHandleWebhookRejectsBadBody(t *testing.T) {
	handler, rec, key := newSignedHandler(t)
	body := `{оборванный`

	w := post(handler, body, sign(t, key, body))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, rec.received)
}

func TestHandleWebhookReconcilerFailure(t *testing.T) {
	handler, rec, key := newSignedHandler(t)
	rec.err = errors.New("база недоступна")

	// Неуспех обработки возвращает 500: провайдер повторит доставку
	w := post(handler, validBody, sign(t, key, validBody))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
