package geo

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
	"time"

	"calroute/internal/model"
)

// HTTPOracle queries an OpenRouteService-compatible matrix endpoint for
// travel durations and distances. Pairs the provider cannot price map to
// ErrUnknown so a single bad pair never aborts a planning run.
type HTTPOracle struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPOracle(baseURL, apiKey string, timeout time.Duration) *HTTPOracle {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPOracle{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// profiles maps travel modes to ORS routing profiles.
var profiles = map[model.TravelMode]string{
	model.ModeDriving:   "driving-car",
	model.ModeBicycling: "cycling-regular",
	model.ModeWalking:   "foot-walking",
	// ORS has no transit profile; the driving profile is the closest
	// stand-in until a transit provider is wired.
	model.ModeTransit: "driving-car",
}

type matrixRequest struct {
	Locations [][]float64 `json:"locations"`
	Metrics   []string    `json:"metrics"`
	Sources   []int       `json:"sources"`
	Dests     []int       `json:"destinations"`
}

type matrixResponse struct {
	Durations [][]*float64 `json:"durations"`
	Distances [][]*float64 `json:"distances"`
}

func (o *HTTPOracle) TravelCost(ctx context.Context, from, to model.Location, mode model.TravelMode) (Cost, error) {
	if from.Point == nil || to.Point == nil {
		// Address-only locations need upstream geocoding first.
		return Cost{}, ErrUnknown
	}
	endpoint := fmt.Sprintf("%s/v2/matrix/%s", o.baseURL, profiles[mode])
	payload, err := json.Marshal(matrixRequest{
		Locations: [][]float64{
			{from.Point.Lng, from.Point.Lat},
			{to.Point.Lng, to.Point.Lat},
		},
		Metrics: []string{"duration", "distance"},
		Sources: []int{0},
		Dests:   []int{1},
	})
	if err != nil {
		return Cost{}, fmt.Errorf("marshal matrix request: %w", err)
	}

	resp, err := o.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		if o.apiKey != "" {
			req.Header.Set("Authorization", o.apiKey)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return Cost{}, fmt.Errorf("matrix request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var mr matrixResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return Cost{}, fmt.Errorf("decode matrix response: %w", err)
	}
	if len(mr.Durations) != 1 || len(mr.Durations[0]) != 1 ||
		len(mr.Distances) != 1 || len(mr.Distances[0]) != 1 {
		return Cost{}, fmt.Errorf("unexpected matrix shape: %dx? durations", len(mr.Durations))
	}
	dur := mr.Durations[0][0]
	dist := mr.Distances[0][0]
	if dur == nil || dist == nil {
		// Provider signals an unreachable pair with null cells.
		return Cost{}, ErrUnknown
	}
	return Cost{
		DurationSec: int(math.Round(*dur)),
		DistanceM:   int(math.Round(*dist)),
	}, nil
}

type httpStatusError struct {
	Code int
	Body string
}

func (e *httpStatusError) Error() string { return fmt.Sprintf("status %d: %s", e.Code, e.Body) }

func (o *HTTPOracle) do(req *http.Request) (*http.Response, error) {
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, &httpStatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}

// doWithRetry retries transient failures (network errors, 429/5xx) with
// exponential backoff while respecting context cancellation.
func (o *HTTPOracle) doWithRetry(ctx context.Context, makeReq func() (*http.Request, error)) (*http.Response, error) {
	const maxAttempts = 3
	backoff := 200 * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		req, err := makeReq()
		if err != nil {
			return nil, err
		}
		resp, err := o.do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		retry := false
		var he *httpStatusError
		if errors.As(err, &he) {
			switch he.Code {
			case 429, 500, 502, 503, 504:
				retry = true
			}
		}
		var netErr net.Error
		if !retry && errors.As(err, &netErr) {
			retry = true
		}
		if !retry || attempt == maxAttempts {
			return nil, lastErr
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return nil, lastErr
}
