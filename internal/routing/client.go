// Package routing implements C1: a client for the external routing
// daemon's HTTP API, plus the bounded-concurrency batch helper the
// dispatcher drives each K-window through.
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Kind discriminates why a single route request did not yield a route,
// mirroring api.RouteOutcomeKind without importing the HTTP contract
// package into the routing client.
type Kind string

const (
	KindOK                Kind = "ok"
	KindInvalidRequest    Kind = "invalid_request"
	KindNoRoute           Kind = "no_route"
	KindUnreachable       Kind = "unreachable"
	KindTimeout           Kind = "timeout"
	KindCancelled         Kind = "cancelled"
	KindMalformedResponse Kind = "malformed_response"
)

// Outcome is the result of a single calculate call.
type Outcome struct {
	Kind      Kind
	DistanceM float64
	DurationS float64
	Line      [][2]float64
	Err       error
}

// Request is a single origin/destination pair, already in WGS84.
type Request struct {
	OriginLon, OriginLat float64
	DestLon, DestLat     float64
}

// Client calls the external routing daemon's route endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the default per-request timeout of 30 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d; c.httpClient.Timeout = d }
}

// WithRequestDelay paces outbound requests at one every d, smoothing
// bursts against daemons that rate-limit (OSRM_REQUEST_DELAY).
func WithRequestDelay(d time.Duration) Option {
	return func(c *Client) {
		if d <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// New constructs a Client targeting baseURL (the routing daemon's base,
// e.g. "http://localhost:5000").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type routeResponse struct {
	Code    string  `json:"code"`
	Message string  `json:"message,omitempty"`
	Routes  []route `json:"routes"`
}

type route struct {
	Distance float64  `json:"distance"`
	Duration float64  `json:"duration"`
	Geometry geometry `json:"geometry"`
}

type geometry struct {
	Type        string       `json:"type"`
	Coordinates [][2]float64 `json:"coordinates"`
}

// Calculate requests a single full-detail route between origin and
// destination, honouring ctx for cancellation and the per-call timeout.
func (c *Client) Calculate(ctx context.Context, req Request) Outcome {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Outcome{Kind: KindCancelled, Err: ctx.Err()}
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/route/v1/driving/%g,%g;%g,%g?overview=full&geometries=geojson",
		c.baseURL, req.OriginLon, req.OriginLat, req.DestLon, req.DestLat)

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return Outcome{Kind: KindInvalidRequest, Err: err}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return Outcome{Kind: KindTimeout, Err: err}
		}
		if ctx.Err() != nil {
			return Outcome{Kind: KindCancelled, Err: ctx.Err()}
		}
		return Outcome{Kind: KindUnreachable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		return Outcome{Kind: KindInvalidRequest, Err: fmt.Errorf("daemon rejected request: status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return Outcome{Kind: KindUnreachable, Err: fmt.Errorf("daemon returned status %d", resp.StatusCode)}
	}

	var parsed routeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Outcome{Kind: KindMalformedResponse, Err: err}
	}

	if parsed.Code != "Ok" || len(parsed.Routes) == 0 {
		return Outcome{Kind: KindNoRoute, Err: fmt.Errorf("daemon message: %s", parsed.Message)}
	}

	best := parsed.Routes[0]
	if len(best.Geometry.Coordinates) < 2 {
		return Outcome{Kind: KindMalformedResponse, Err: fmt.Errorf("route geometry has %d coordinates", len(best.Geometry.Coordinates))}
	}

	return Outcome{
		Kind:      KindOK,
		DistanceM: best.Distance,
		DurationS: best.Duration,
		Line:      best.Geometry.Coordinates,
	}
}

// CalculateBatch fires every request in reqs concurrently (fan-out),
// awaits the whole window (fan-in), and returns outcomes in submission
// order. The caller chooses the window size — the dispatcher passes at
// most OSRM_MAX_CONCURRENT requests per call.
func (c *Client) CalculateBatch(ctx context.Context, reqs []Request) []Outcome {
	outcomes := make([]Outcome, len(reqs))

	var wg sync.WaitGroup
	wg.Add(len(reqs))
	for i, req := range reqs {
		go func(i int, req Request) {
			defer wg.Done()
			outcomes[i] = c.Calculate(ctx, req)
		}(i, req)
	}
	wg.Wait()

	return outcomes
}
