package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultWhatsAppTimeout = 15 * time.Second
	messagesPath           = "/messages"
	maxErrorBodyLength     = 512
)

type whatsAppTextBody struct {
	Body string `json:"body"`
}

type whatsAppRequest struct {
	MessagingProduct string           `json:"messaging_product"`
	To               string           `json:"to"`
	Type             string           `json:"type"`
	Text             whatsAppTextBody `json:"text"`
}

type whatsAppResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// WhatsAppProvider sends text messages through a WhatsApp Business API compatible endpoint.
type WhatsAppProvider struct {
	client   *resty.Client
	endpoint string
}

func NewWhatsAppProvider(baseURL string, token string) (*WhatsAppProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultWhatsAppTimeout)
	if token = strings.TrimSpace(token); token != "" {
		client.SetAuthToken(token)
	}

	return NewWhatsAppProviderWithClient(baseURL, client)
}

func NewWhatsAppProviderWithClient(baseURL string, client *resty.Client) (*WhatsAppProvider, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("whatsapp api url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid whatsapp api url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWhatsAppTimeout)
	}
	// Retries belong to the dispatch loop so a recipient is never sent twice by one call.
	client.SetRetryCount(0)

	return &WhatsAppProvider{
		client:   client,
		endpoint: trimmed + messagesPath,
	}, nil
}

func (p *WhatsAppProvider) Send(ctx context.Context, msg OutboundMessage) (*ProviderResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if strings.TrimSpace(msg.To) == "" {
		return nil, &ProviderError{Message: "recipient phone is required"}
	}
	if strings.TrimSpace(msg.Body) == "" {
		return nil, &ProviderError{Message: "message body is required"}
	}

	var parsed whatsAppResponse
	request := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(whatsAppRequest{
			MessagingProduct: "whatsapp",
			To:               msg.To,
			Type:             "text",
			Text:             whatsAppTextBody{Body: msg.Body},
		}).
		SetResult(&parsed)
	if msg.CorrelationID != "" {
		request.SetHeader("X-Correlation-ID", msg.CorrelationID)
	}

	response, err := request.Post(p.endpoint)
	if err != nil {
		return nil, &ProviderError{
			Message:   "provider request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "provider returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &ProviderResponse{
			StatusCode: statusCode,
			Body:       responseBody,
			MessageID:  providerMessageID(&parsed, response),
		}, nil
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Message:    providerErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusRequestTimeout ||
		(statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func providerErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	if body == "" {
		return base
	}
	if len(body) > maxErrorBodyLength {
		body = body[:maxErrorBodyLength]
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func providerMessageID(parsed *whatsAppResponse, response *resty.Response) string {
	if parsed != nil {
		for _, m := range parsed.Messages {
			if id := strings.TrimSpace(m.ID); id != "" {
				return id
			}
		}
	}
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Message-ID", "X-Request-ID"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
