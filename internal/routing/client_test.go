package routing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCalculateOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":"Ok","routes":[{"distance":1234.5,"duration":210.0,"geometry":{"type":"LineString","coordinates":[[0,0],[1,1]]}}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	out := c.Calculate(context.Background(), Request{OriginLon: 0, OriginLat: 0, DestLon: 1, DestLat: 1})

	if out.Kind != KindOK {
		t.Fatalf("expected KindOK, got %v (err=%v)", out.Kind, out.Err)
	}
	if out.DistanceM != 1234.5 || out.DurationS != 210.0 {
		t.Errorf("unexpected distance/duration: %+v", out)
	}
	if len(out.Line) != 2 {
		t.Errorf("expected 2-point line, got %v", out.Line)
	}
}

func TestCalculateNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"NoRoute","message":"no route found"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	out := c.Calculate(context.Background(), Request{})
	if out.Kind != KindNoRoute {
		t.Errorf("expected KindNoRoute, got %v", out.Kind)
	}
}

func TestCalculateInvalidRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL)
	out := c.Calculate(context.Background(), Request{})
	if out.Kind != KindInvalidRequest {
		t.Errorf("expected KindInvalidRequest, got %v", out.Kind)
	}
}

func TestCalculateUnreachable(t *testing.T) {
	c := New("http://127.0.0.1:1") // nothing listening
	out := c.Calculate(context.Background(), Request{})
	if out.Kind != KindUnreachable {
		t.Errorf("expected KindUnreachable, got %v (err=%v)", out.Kind, out.Err)
	}
}

func TestCalculateTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte(`{"code":"Ok","routes":[{"distance":1,"duration":1,"geometry":{"coordinates":[[0,0],[1,1]]}}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, WithTimeout(5*time.Millisecond))
	out := c.Calculate(context.Background(), Request{})
	if out.Kind != KindTimeout {
		t.Errorf("expected KindTimeout, got %v (err=%v)", out.Kind, out.Err)
	}
}

func TestCalculateMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	out := c.Calculate(context.Background(), Request{})
	if out.Kind != KindMalformedResponse {
		t.Errorf("expected KindMalformedResponse, got %v", out.Kind)
	}
}

func TestCalculateMalformedGeometry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"Ok","routes":[{"distance":1,"duration":1,"geometry":{"coordinates":[[0,0]]}}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	out := c.Calculate(context.Background(), Request{})
	if out.Kind != KindMalformedResponse {
		t.Errorf("expected KindMalformedResponse for a single-point line, got %v", out.Kind)
	}
}

func TestCalculateBatchPreservesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"Ok","routes":[{"distance":1,"duration":1,"geometry":{"coordinates":[[0,0],[1,1]]}}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	reqs := make([]Request, 10)
	for i := range reqs {
		reqs[i] = Request{OriginLon: float64(i)}
	}

	outcomes := c.CalculateBatch(context.Background(), reqs)
	if len(outcomes) != 10 {
		t.Fatalf("expected 10 outcomes, got %d", len(outcomes))
	}
	for i, o := range outcomes {
		if o.Kind != KindOK {
			t.Errorf("outcome %d: expected KindOK, got %v", i, o.Kind)
		}
	}
}

func TestCalculateRespectsCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(srv.URL)
	out := c.Calculate(ctx, Request{})
	if out.Kind != KindCancelled && out.Kind != KindUnreachable {
		t.Errorf("expected KindCancelled or KindUnreachable for an already-cancelled context, got %v", out.Kind)
	}
}
