package projection

import (
	"math"
	"testing"

	"batchroute/pkg/api"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestLongLatPassthrough(t *testing.T) {
	tr, err := Compile("+proj=longlat +datum=WGS84")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	lon, lat, err := tr.ToWGS84(2.3522, 48.8566)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if lon != 2.3522 || lat != 48.8566 {
		t.Errorf("expected passthrough, got lon=%v lat=%v", lon, lat)
	}
}

func TestWebMercatorRoundTrip(t *testing.T) {
	tr, err := Compile("+proj=merc +a=6378137 +b=6378137")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	// Web Mercator origin maps to (0, 0).
	lon, lat, err := tr.ToWGS84(0, 0)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if !almostEqual(lon, 0, 1e-9) || !almostEqual(lat, 0, 1e-9) {
		t.Errorf("expected origin, got lon=%v lat=%v", lon, lat)
	}
}

func TestUTMZone31N(t *testing.T) {
	tr, err := Compile("+proj=utm +zone=31 +datum=WGS84")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	// A point near the UTM31N false easting/northing origin sits near
	// lon_0=3, lat=0.
	lon, lat, err := tr.ToWGS84(500000, 0)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if !almostEqual(lon, 3, 1e-6) || !almostEqual(lat, 0, 1e-6) {
		t.Errorf("expected lon~3 lat~0, got lon=%v lat=%v", lon, lat)
	}
}

func TestCompileUnsupportedProjection(t *testing.T) {
	if _, err := Compile("+proj=aea"); err == nil {
		t.Error("expected an error for an unsupported projection")
	}
}

func TestCompileUTMMissingZone(t *testing.T) {
	if _, err := Compile("+proj=utm +datum=WGS84"); err == nil {
		t.Error("expected an error when +zone is missing")
	}
}

func TestRegistryCachesTransformer(t *testing.T) {
	reg := NewRegistry()
	ref := api.ReferenceDescriptor{Code: "WGS84", Proj4: "+proj=longlat"}

	if _, _, err := reg.ToWGS84(ref, 1, 2); err != nil {
		t.Fatalf("first transform: %v", err)
	}

	reg.mu.Lock()
	cached, ok := reg.cache[ref.Code]
	reg.mu.Unlock()
	if !ok || cached == nil {
		t.Error("expected the transformer to be cached after first use")
	}
}

func TestRegistryOutOfRangeDetection(t *testing.T) {
	reg := NewRegistry()
	ref := api.ReferenceDescriptor{Code: "BAD", Proj4: "+proj=longlat"}

	if _, _, err := reg.ToWGS84(ref, 400, 40); err != ErrOutOfRange {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
}
