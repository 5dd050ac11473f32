// Package projcatalog provides the static coordinate reference system
// catalog. Spec §1 lists the catalog's own internals as a non-goal: the
// engine only needs an opaque (code → proj4 string) lookup loaded once at
// process start. This package ships a small built-in default set covering
// the systems exercised by the dispatcher's test scenarios and the common
// European/global references; a deployment can extend it with Load.
package projcatalog

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"batchroute/pkg/api"
)

// Catalog is a process-wide, read-only set of reference descriptors.
// Lifetime: loaded once at startup, never mutated after (spec §3).
type Catalog struct {
	mu      sync.RWMutex
	byCode  map[string]api.ReferenceDescriptor
	ordered []string
}

// New returns a Catalog pre-populated with the built-in defaults.
func New() *Catalog {
	c := &Catalog{byCode: make(map[string]api.ReferenceDescriptor)}
	for _, d := range defaults {
		c.put(d)
	}
	return c
}

// Load replaces the catalog's contents with the given descriptors. Intended
// to be called once at startup if a deployment supplies its own catalog
// file; the catalog remains process-wide and read-only afterward.
func (c *Catalog) Load(descs []api.ReferenceDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byCode = make(map[string]api.ReferenceDescriptor, len(descs))
	c.ordered = c.ordered[:0]
	for _, d := range descs {
		if _, exists := c.byCode[d.Code]; !exists {
			c.ordered = append(c.ordered, d.Code)
		}
		c.byCode[d.Code] = d
	}
}

func (c *Catalog) put(d api.ReferenceDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byCode[d.Code]; !exists {
		c.ordered = append(c.ordered, d.Code)
	}
	c.byCode[d.Code] = d
}

// ErrUnknownReference is returned by Get for an unrecognised CRS code.
type ErrUnknownReference struct {
	Code string
}

func (e *ErrUnknownReference) Error() string {
	return fmt.Sprintf("unknown coordinate reference system %q", e.Code)
}

// Get looks up a descriptor by its code (e.g. "EPSG:4326").
func (c *Catalog) Get(code string) (api.ReferenceDescriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.byCode[code]
	if !ok {
		return api.ReferenceDescriptor{}, &ErrUnknownReference{Code: code}
	}
	return d, nil
}

// List returns descriptors matching the optional region/search filters,
// used by GET /api/projections.
func (c *Catalog) List(region, search string) []api.ReferenceDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	region = strings.ToLower(strings.TrimSpace(region))
	search = strings.ToLower(strings.TrimSpace(search))

	out := make([]api.ReferenceDescriptor, 0, len(c.ordered))
	for _, code := range c.ordered {
		d := c.byCode[code]
		if region != "" && !strings.EqualFold(d.Region, region) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(d.Name), search) && !strings.Contains(strings.ToLower(d.Code), search) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

var defaults = []api.ReferenceDescriptor{
	{
		Code: "EPSG:4326", Name: "WGS 84", Region: "global", Datum: "WGS84",
		Proj4: "+proj=longlat +datum=WGS84 +no_defs",
	},
	{
		Code: "EPSG:3857", Name: "WGS 84 / Pseudo-Mercator", Region: "global", Datum: "WGS84",
		Proj4: "+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +nadgrids=@null +wktext +no_defs",
	},
	{
		Code: "EPSG:2154", Name: "RGF93 / Lambert-93", Region: "france", Datum: "RGF93",
		Proj4: "+proj=lcc +lat_1=49 +lat_2=44 +lat_0=46.5 +lon_0=3 +x_0=700000 +y_0=6600000 +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +units=m +no_defs",
	},
	{
		Code: "EPSG:27700", Name: "OSGB36 / British National Grid", Region: "united-kingdom", Datum: "OSGB36",
		Proj4: "+proj=tmerc +lat_0=49 +lon_0=-2 +k=0.9996012717 +x_0=400000 +y_0=-100000 +ellps=airy +units=m +no_defs",
	},
	{
		Code: "EPSG:25832", Name: "ETRS89 / UTM zone 32N", Region: "europe", Datum: "ETRS89",
		Proj4: "+proj=utm +zone=32 +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +units=m +no_defs",
	},
	{
		Code: "EPSG:32633", Name: "WGS 84 / UTM zone 33N", Region: "global", Datum: "WGS84",
		Proj4: "+proj=utm +zone=33 +datum=WGS84 +units=m +no_defs",
	},
}
