package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Source представляет источник рыночных курсов.
// Курс используется ровно один раз — при создании сессии для фиксации
// суммы в криптовалюте. Дальше сохраненное значение не пересчитывается.
type Source interface {
	GetUSDPrice(ctx context.Context, assetID string) (float64, error)
}

// Client представляет HTTP-клиент источника курсов
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient создает новый клиент источника курсов
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// GetUSDPrice возвращает цену единицы актива в USD
func (c *Client) GetUSDPrice(ctx context.Context, assetID string) (float64, error) {
	endpoint := fmt.Sprintf("%s/prices?asset=%s&quote=USD", c.baseURL, url.QueryEscape(assetID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания HTTP запроса: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ошибка запроса курса: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения ответа: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("источник курсов вернул статус %d", resp.StatusCode)
	}

	var parsed struct {
		Price float64 `json:"price"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return 0, fmt.Errorf("ошибка разбора ответа курсов: %w", err)
	}

	if parsed.Price <= 0 {
		return 0, fmt.Errorf("источник вернул некорректный курс %f для актива %s", parsed.Price, assetID)
	}

	c.logger.Debug("получен курс актива",
		zap.String("asset_id", assetID),
		zap.Float64("usd_price", parsed.Price))

	return parsed.Price, nil
}
