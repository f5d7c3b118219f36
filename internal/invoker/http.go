package invoker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/broadcast-engine/internal/domain"
	"github.com/kursadbilgin/broadcast-engine/internal/observability"
)

const (
	// WorkerPath is the dispatch worker function route relative to the backend base URL.
	WorkerPath = "/functions/v1/whatsapp-broadcast-worker"

	defaultInvokeTimeout = 60 * time.Second
	maxErrorBodyLength   = 256
)

// HTTPInvoker calls the dispatch worker function over HTTP with the service credential.
type HTTPInvoker struct {
	client   *resty.Client
	endpoint string
}

// NewHTTPInvoker builds an invoker whose calls wait at most timeout for the worker's reply.
func NewHTTPInvoker(backendURL string, serviceRoleKey string, timeout time.Duration) (*HTTPInvoker, error) {
	if timeout <= 0 {
		timeout = defaultInvokeTimeout
	}
	client := resty.New()
	client.SetTimeout(timeout)

	return NewHTTPInvokerWithClient(backendURL, serviceRoleKey, client)
}

func NewHTTPInvokerWithClient(backendURL string, serviceRoleKey string, client *resty.Client) (*HTTPInvoker, error) {
	base := strings.TrimRight(strings.TrimSpace(backendURL), "/")
	if base == "" {
		return nil, fmt.Errorf("backend url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	key := strings.TrimSpace(serviceRoleKey)
	if key == "" {
		return nil, fmt.Errorf("service role key is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultInvokeTimeout)
	}
	client.SetRetryCount(0)
	client.SetAuthToken(key)
	client.SetHeader("apikey", key)

	return &HTTPInvoker{
		client:   client,
		endpoint: base + WorkerPath,
	}, nil
}

// Invoke posts {action, broadcastId}. Any non-2xx answer is an error; the body is not inspected.
func (i *HTTPInvoker) Invoke(ctx context.Context, req domain.DispatchRequest) error {
	if i == nil || i.client == nil {
		return fmt.Errorf("invoker is not initialized")
	}
	if err := req.Validate(); err != nil {
		return err
	}

	ctx, correlationID := observability.EnsureCorrelationID(ctx)
	if req.CorrelationID == "" {
		req.CorrelationID = correlationID
	}

	response, err := i.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Correlation-ID", req.CorrelationID).
		SetBody(req).
		Post(i.endpoint)
	if err != nil {
		return fmt.Errorf("failed to invoke dispatch worker: %w", err)
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		body := strings.TrimSpace(response.String())
		if len(body) > maxErrorBodyLength {
			body = body[:maxErrorBodyLength]
		}
		return fmt.Errorf("dispatch worker returned status %d: %s", statusCode, body)
	}

	return nil
}
