// Package sales предоставляет клиент для внешней кассовой системы продаж.
package sales

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ErrSaleNotFound возвращается, если продажа неизвестна системе продаж.
var ErrSaleNotFound = errors.New("sale not found")

// Client инкапсулирует HTTP-взаимодействие с системой продаж.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// Sale описывает ответ системы продаж по одной продаже.
type Sale struct {
	ID            string  `json:"id"`
	Total         float64 `json:"total"`
	ItemsCount    int32   `json:"items_count"`
	PaymentMethod string  `json:"payment_method"`
	Status        string  `json:"status"`
}

// NewClient создаёт HTTP-клиент для обращения к системе продаж по указанному адресу.
// Временные сбои и ответы 429/5xx повторяются с экспоненциальной задержкой.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc,
	}
}

// GetSale запрашивает информацию о продаже по её идентификатору.
func (c *Client) GetSale(ctx context.Context, saleID string) (*Sale, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("sales client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	url := fmt.Sprintf("%s/api/sales/%s", base, saleID)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrSaleNotFound, saleID)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result Sale
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &result, nil
}
