package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/smolenkov/conveyor/internal/domain"
)

// HTTPConfig — типизированная схема конфигурации узла "http".
type HTTPConfig struct {
	// URL — адрес запроса (может содержать ${VAR}).
	URL string `json:"url" validate:"required"`

	// Method — HTTP-метод. Default: GET.
	Method string `json:"method,omitempty" validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`

	// Headers — заголовки запроса.
	Headers map[string]string `json:"headers,omitempty"`

	// Body — тело запроса (сериализуется в JSON).
	Body any `json:"body,omitempty"`
}

// HTTPExecutor — executor узла типа "http".
//
// Тип недетерминированный: внешний I/O, результаты не кэшируются.
//
// Payload результата:
//   - status_code (int)
//   - headers (map[string]string)
//   - body (any — JSON или строка)
type HTTPExecutor struct {
	// Client — HTTP-клиент (nil — http.DefaultClient).
	// Таймаут попытки обеспечивает ctx, выданный engine.
	Client *http.Client
}

// Execute выполняет HTTP-запрос.
func (e *HTTPExecutor) Execute(ctx context.Context, req *Request) (*domain.Output, error) {
	method := getString(req.Config, "method", http.MethodGet)
	url := getString(req.Config, "url", "")
	if url == "" {
		return nil, fmt.Errorf("%w: url is required", ErrHTTPRequest)
	}

	var bodyReader io.Reader
	if body, ok := req.Config["body"]; ok && body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal body: %v", ErrHTTPRequest, err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrHTTPRequest, err)
	}

	setHeaders(httpReq, req.Config)
	if bodyReader != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	// В лог уходит отображаемая форма URL: секреты в ней замаскированы
	displayURL := getString(req.Display, "url", url)
	req.Log(domain.LogLevelInfo, fmt.Sprintf("%s %s (attempt %d)", method, displayURL, req.Attempt))

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHTTPRequest, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrHTTPRequest, err)
	}

	// HTTP >= 400 — ошибка выполнения, подлежит retry
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: HTTP %d: %s",
			ErrHTTPRequest, resp.StatusCode, truncate(string(respBody), 200))
	}

	req.Log(domain.LogLevelInfo, fmt.Sprintf("HTTP %d, %d bytes", resp.StatusCode, len(respBody)))

	return &domain.Output{
		Payload: buildHTTPPayload(resp, respBody),
		Schema:  "http_response",
	}, nil
}

// buildHTTPPayload формирует payload из HTTP-ответа.
func buildHTTPPayload(resp *http.Response, body []byte) map[string]any {
	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	// Пробуем JSON, иначе строка
	var parsedBody any
	if err := json.Unmarshal(body, &parsedBody); err != nil {
		parsedBody = string(body)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        parsedBody,
	}
}

// getString извлекает строку из map с default значением.
func getString(m map[string]any, key, defaultVal string) string {
	if val, ok := m[key]; ok {
		if s, ok := val.(string); ok && s != "" {
			return s
		}
	}
	return defaultVal
}

// setHeaders устанавливает заголовки из конфигурации.
func setHeaders(req *http.Request, config map[string]any) {
	headers, ok := config["headers"]
	if !ok || headers == nil {
		return
	}

	switch h := headers.(type) {
	case map[string]any:
		for key, val := range h {
			if s, ok := val.(string); ok {
				req.Header.Set(key, s)
			}
		}
	case map[string]string:
		for key, val := range h {
			req.Header.Set(key, val)
		}
	}
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
