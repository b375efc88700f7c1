package custodian

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNotification(t *testing.T) {
	body := []byte(`{
		"type": "STATUS_UPDATED",
		"data": {
			"id": "tx-1",
			"status": "COMPLETED",
			"assetId": "BTC",
			"destination": {"type": "VAULT_ACCOUNT", "id": "v-1"},
			"destinationAddress": "addr-1",
			"amountInfo": {"amount": "0.01", "amountUSD": "500.00"},
			"txHash": "0xabc"
		}
	}`)

	n, err := ParseNotification(body)
	require.NoError(t, err)

	assert.Equal(t, NotificationTypeStatusUpdated, n.Type)
	assert.Equal(t, "tx-1", n.Data.ID)
	assert.Equal(t, TxStatusCompleted, n.Data.Status)
	assert.Equal(t, DestinationTypeVaultAccount, n.Data.Destination.Type)

	usd, err := n.Data.AmountInfo.AmountUSDFloat()
	require.NoError(t, err)
	assert.Equal(t, 500.0, usd)

	amount, err := n.Data.AmountInfo.AmountFloat()
	require.NoError(t, err)
	assert.Equal(t, 0.01, amount)
}

func TestParseNotificationRejectsBad(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"не JSON", `{оборванный`},
		{"неизвестный тип", `{"type":"VAULT_BALANCE","data":{"id":"tx-1"}}`},
		{"без идентификатора", `{"type":"CREATED","data":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseNotification([]byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestTxStatusIsFailure(t *testing.T) {
	assert.True(t, TxStatusFailed.IsFailure())
	assert.True(t, TxStatusCancelled.IsFailure())
	assert.True(t, TxStatusRejected.IsFailure())
	assert.True(t, TxStatusBlocked.IsFailure())
	assert.False(t, TxStatusCompleted.IsFailure())
	assert.False(t, TxStatusConfirming.IsFailure())
}

func TestAmountInfoEmptyIsZero(t *testing.T) {
	a := AmountInfo{}

	usd, err := a.AmountUSDFloat()
	require.NoError(t, err)
	assert.Zero(t, usd)

	_, err = AmountInfo{AmountUSD: "не число"}.AmountUSDFloat()
	assert.Error(t, err)
}
