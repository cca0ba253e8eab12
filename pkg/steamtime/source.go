package steamtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
)

// DefaultEndpoint is the Steam two factor service time query.
const DefaultEndpoint = "https://api.steampowered.com/ITwoFactorService/QueryTime/v0001"

// maxResponseBody caps how much of a time response is read.
const maxResponseBody = 64 << 10

// TimeSource reports the authoritative server time in whole seconds.
type TimeSource interface {
	ServerTime(ctx context.Context) (int64, error)
}

// TimeSourceFunc adapts a function to the TimeSource interface.
type TimeSourceFunc func(ctx context.Context) (int64, error)

// ServerTime calls f.
func (f TimeSourceFunc) ServerTime(ctx context.Context) (int64, error) {
	return f(ctx)
}

// HTTPTimeSource queries the server time over HTTP.
type HTTPTimeSource struct {
	client   HTTPClient
	endpoint string
}

// NewHTTPTimeSource constructs a time source for endpoint. If client is nil
// http.DefaultClient is used. Endpoint can be left empty to use
// DefaultEndpoint.
func NewHTTPTimeSource(client HTTPClient, endpoint string) *HTTPTimeSource {
	if client == nil {
		client = http.DefaultClient
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &HTTPTimeSource{client: client, endpoint: endpoint}
}

// Endpoint returns the URL queried by the source.
func (s *HTTPTimeSource) Endpoint() string {
	return s.endpoint
}

type queryTimeResponse struct {
	Response struct {
		ServerTime json.RawMessage `json:"server_time"`
	} `json:"response"`
}

// ServerTime issues a single empty POST and returns the server_time field.
func (s *HTTPTimeSource) ServerTime(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = 0

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return 0, classifyTransportError(err)
	}

	var parsed queryTimeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidResponseBody, &ResponseError{
			StatusCode: resp.StatusCode,
			Body:       body,
			Err:        err,
		})
	}

	seconds, err := parseServerTime(parsed.Response.ServerTime)
	if err != nil {
		return 0, fmt.Errorf("%w: status %d: %v", ErrInvalidTimeResponse, resp.StatusCode, err)
	}
	return seconds, nil
}

// parseServerTime accepts the field as a JSON number or a decimal string.
// Fractional seconds are truncated toward the earlier second.
func parseServerTime(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, errors.New("response lacked server_time")
	}

	var num json.Number
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, fmt.Errorf("server_time: %v", err)
		}
		num = json.Number(strings.TrimSpace(text))
	} else if err := json.Unmarshal(raw, &num); err != nil {
		return 0, fmt.Errorf("server_time: %v", err)
	}

	seconds, err := num.Int64()
	if err != nil {
		f, ferr := num.Float64()
		if ferr != nil || math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 {
			return 0, fmt.Errorf("server_time %q is not a number", num.String())
		}
		seconds = int64(math.Floor(f))
	}
	if seconds < 0 {
		return 0, fmt.Errorf("server_time %d is negative", seconds)
	}
	return seconds, nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}
