package projcatalog

import (
	"testing"

	"batchroute/pkg/api"
)

func TestGetKnownReference(t *testing.T) {
	c := New()
	d, err := c.Get("EPSG:4326")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if d.Name != "WGS 84" {
		t.Errorf("unexpected name: %s", d.Name)
	}
}

func TestGetUnknownReference(t *testing.T) {
	c := New()
	if _, err := c.Get("EPSG:0"); err == nil {
		t.Error("expected an error for an unknown reference code")
	}
}

func TestListFiltersByRegion(t *testing.T) {
	c := New()
	results := c.List("france", "")
	if len(results) != 1 || results[0].Code != "EPSG:2154" {
		t.Errorf("expected only EPSG:2154 for region=france, got %v", results)
	}
}

func TestListFiltersBySearch(t *testing.T) {
	c := New()
	results := c.List("", "mercator")
	if len(results) != 1 || results[0].Code != "EPSG:3857" {
		t.Errorf("expected only EPSG:3857 for search=mercator, got %v", results)
	}
}

func TestListReturnsSortedByCode(t *testing.T) {
	c := New()
	results := c.List("", "")
	for i := 1; i < len(results); i++ {
		if results[i-1].Code > results[i].Code {
			t.Errorf("expected results sorted by code, got %s before %s", results[i-1].Code, results[i].Code)
		}
	}
}

func TestLoadReplacesContents(t *testing.T) {
	c := New()
	c.Load([]api.ReferenceDescriptor{
		{Code: "CUSTOM:1", Name: "Custom One"},
	})

	if _, err := c.Get("EPSG:4326"); err == nil {
		t.Error("expected Load to replace the built-in defaults entirely")
	}
	d, err := c.Get("CUSTOM:1")
	if err != nil || d.Name != "Custom One" {
		t.Errorf("expected the loaded descriptor to be retrievable, got %+v err=%v", d, err)
	}
}
