// Package simulator drives fleets of synthetic ESP32 boards against the
// ingestion backend over HTTP or RabbitMQ.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"procodus.dev/sensor-telemetry/pkg/mq"
)

// Transport names.
const (
	TransportHTTP = "http"
	TransportAMQP = "amqp"
)

// IngestPath is the backend route readings are posted to.
const IngestPath = "/api/data"

// Transport delivers one encoded payload to the backend.
type Transport interface {
	Name() string
	Send(ctx context.Context, body []byte) error
	Close() error
}

// HTTPTransport posts payloads to the backend's ingestion endpoint.
type HTTPTransport struct {
	client *resty.Client
}

// NewHTTPTransport returns a transport for the backend at baseURL.
// Failed requests are retried up to retries times.
func NewHTTPTransport(baseURL string, timeout time.Duration, retries int) (*HTTPTransport, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("backend URL cannot be empty")
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Content-Type", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})

	return &HTTPTransport{client: client}, nil
}

// Name implements Transport.
func (t *HTTPTransport) Name() string {
	return TransportHTTP
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, body []byte) error {
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(IngestPath)
	if err != nil {
		return fmt.Errorf("failed to post reading: %w", err)
	}
	if resp.IsError() {
		return &StatusError{Code: resp.StatusCode(), Body: strings.TrimSpace(resp.String())}
	}
	return nil
}

// Close implements Transport.
func (t *HTTPTransport) Close() error {
	t.client.GetClient().CloseIdleConnections()
	return nil
}

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Body)
}

// MQTransport publishes payloads to the ingestion queue.
type MQTransport struct {
	client mq.ClientInterface
}

// NewMQTransport wraps an MQ client. The transport owns the client.
func NewMQTransport(client mq.ClientInterface) (*MQTransport, error) {
	if client == nil {
		return nil, errors.New("mq client cannot be nil")
	}
	return &MQTransport{client: client}, nil
}

// Name implements Transport.
func (t *MQTransport) Name() string {
	return TransportAMQP
}

// Send implements Transport.
func (t *MQTransport) Send(ctx context.Context, body []byte) error {
	return t.client.Publish(ctx, body)
}

// Close implements Transport.
func (t *MQTransport) Close() error {
	return t.client.Close()
}

var (
	_ Transport = (*HTTPTransport)(nil)
	_ Transport = (*MQTransport)(nil)
)
