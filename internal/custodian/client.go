package custodian

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Client представляет REST-клиент кастодиального провайдера.
// Ядро использует ограниченное подмножество API: выпуск хранилищ и адресов
// депозита, активация актива и переводы между хранилищами.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient создает новый клиент кастодиана
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// CreateVaultAccount создает хранилище для пользователя
func (c *Client) CreateVaultAccount(ctx context.Context, name string) (string, error) {
	reqBody := map[string]string{"name": name}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/vault/accounts", reqBody, &resp); err != nil {
		return "", fmt.Errorf("ошибка создания хранилища: %w", err)
	}

	c.logger.Info("хранилище создано",
		zap.String("vault_account_id", resp.ID),
		zap.String("name", name))

	return resp.ID, nil
}

// ActivateVaultAsset активирует актив в хранилище пользователя.
// Повторная активация уже активного актива у провайдера безопасна.
func (c *Client) ActivateVaultAsset(ctx context.Context, vaultAccountID, assetID string) error {
	path := fmt.Sprintf("/vault/accounts/%s/%s", vaultAccountID, assetID)
	if err := c.do(ctx, http.MethodPost, path, struct{}{}, nil); err != nil {
		return fmt.Errorf("ошибка активации актива %s в хранилище %s: %w", assetID, vaultAccountID, err)
	}

	c.logger.Info("актив активирован в хранилище",
		zap.String("vault_account_id", vaultAccountID),
		zap.String("asset_id", assetID))

	return nil
}

// CreateDepositAddress выпускает адрес депозита для сессии
func (c *Client) CreateDepositAddress(ctx context.Context, vaultAccountID, assetID, description string) (*DepositAddress, error) {
	path := fmt.Sprintf("/vault/accounts/%s/%s/addresses", vaultAccountID, assetID)
	reqBody := map[string]string{"description": description}

	addr := &DepositAddress{}
	if err := c.do(ctx, http.MethodPost, path, reqBody, addr); err != nil {
		return nil, fmt.Errorf("ошибка выпуска адреса депозита: %w", err)
	}

	c.logger.Info("адрес депозита выпущен",
		zap.String("vault_account_id", vaultAccountID),
		zap.String("asset_id", assetID),
		zap.String("address", addr.Address))

	return addr, nil
}

// CreateTransfer инициирует перевод между хранилищами (подбор средств в казначейство)
func (c *Client) CreateTransfer(ctx context.Context, req *TransferRequest) (*TransferResult, error) {
	body := map[string]interface{}{
		"assetId": req.AssetID,
		"source": map[string]string{
			"type": DestinationTypeVaultAccount,
			"id":   req.SourceVaultID,
		},
		"destination": map[string]string{
			"type": DestinationTypeVaultAccount,
			"id":   req.DestinationVaultID,
		},
		"amount": "MAX",
		"note":   req.Note,
	}

	result := &TransferResult{}
	if err := c.do(ctx, http.MethodPost, "/transactions", body, result); err != nil {
		return nil, fmt.Errorf("ошибка создания перевода: %w", err)
	}

	c.logger.Info("перевод создан",
		zap.String("tx_id", result.ID),
		zap.String("status", string(result.Status)),
		zap.String("source_vault", req.SourceVaultID),
		zap.String("destination_vault", req.DestinationVaultID))

	return result, nil
}

// do выполняет запрос к API кастодиана и разбирает ответ
func (c *Client) do(ctx context.Context, method, path string, reqBody, respBody interface{}) error {
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("ошибка сериализации запроса: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("ошибка создания HTTP запроса: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ошибка отправки запроса: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ошибка чтения ответа: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("кастодиан вернул ошибку",
			zap.Int("status_code", resp.StatusCode),
			zap.String("path", path),
			zap.String("body", string(data)))
		return fmt.Errorf("кастодиан вернул статус %d", resp.StatusCode)
	}

	if respBody != nil {
		if err := json.Unmarshal(data, respBody); err != nil {
			return fmt.Errorf("ошибка разбора ответа: %w", err)
		}
	}

	return nil
}
