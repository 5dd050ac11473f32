// Package geopackage re-exports an already-completed feature collection as
// a GeoPackage (SQLite) container, for clients that cannot consume GeoJSON
// directly. It runs strictly after a job is terminal: the dispatcher's hot
// path (C5) never writes this format, only routectl's export command does,
// reading the whole downloaded GeoJSON result file into memory first.
package geopackage

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"

	_ "modernc.org/sqlite"

	"batchroute/internal/geojson"
)

// wgs84SRSID is the well-known SRS identifier GeoPackage readers expect
// for unprojected lon/lat geometry (every line this engine writes keeps
// the routing daemon's lon/lat coordinates; C4 only simplifies or
// straightens it).
const wgs84SRSID = 4326

// Export reads the feature collection at geojsonPath and writes a GeoPackage
// container to gpkgPath, overwriting it if present. Each feature becomes one
// row of a "routes" table: a LineString geometry column plus one text
// column per original property key (flattened to strings, since GeoPackage
// attribute columns are schema-fixed and the engine's rows don't share a
// single schema across jobs with different source columns).
func Export(geojsonPath, gpkgPath string) error {
	raw, err := os.ReadFile(geojsonPath)
	if err != nil {
		return fmt.Errorf("read result file: %w", err)
	}

	var collection geojson.FeatureCollection
	if err := json.Unmarshal(raw, &collection); err != nil {
		return fmt.Errorf("parse result file: %w", err)
	}

	os.Remove(gpkgPath)

	db, err := sql.Open("sqlite", gpkgPath)
	if err != nil {
		return fmt.Errorf("open geopackage: %w", err)
	}
	defer db.Close()

	if err := createSchema(db); err != nil {
		return fmt.Errorf("create geopackage schema: %w", err)
	}

	columns := unionPropertyKeys(collection.Features)
	if err := createRoutesTable(db, columns); err != nil {
		return fmt.Errorf("create routes table: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	for _, f := range collection.Features {
		if err := insertFeature(tx, columns, f); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert feature: %w", err)
		}
	}

	return tx.Commit()
}

func unionPropertyKeys(features []geojson.Feature) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, f := range features {
		for k := range f.Properties {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys
}

// createSchema lays down the minimal set of GeoPackage-required metadata
// tables (gpkg_spatial_ref_sys, gpkg_contents, gpkg_geometry_columns) so
// that conforming readers recognise the file as a valid GeoPackage.
func createSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE gpkg_spatial_ref_sys (
			srs_name TEXT NOT NULL,
			srs_id INTEGER NOT NULL PRIMARY KEY,
			organization TEXT NOT NULL,
			organization_coordsys_id INTEGER NOT NULL,
			definition TEXT NOT NULL,
			description TEXT
		)`,
		`CREATE TABLE gpkg_contents (
			table_name TEXT NOT NULL PRIMARY KEY,
			data_type TEXT NOT NULL,
			identifier TEXT UNIQUE,
			description TEXT DEFAULT '',
			last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			min_x DOUBLE, min_y DOUBLE, max_x DOUBLE, max_y DOUBLE,
			srs_id INTEGER,
			CONSTRAINT fk_gc_r_srs_id FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
		)`,
		`CREATE TABLE gpkg_geometry_columns (
			table_name TEXT NOT NULL,
			column_name TEXT NOT NULL,
			geometry_type_name TEXT NOT NULL,
			srs_id INTEGER NOT NULL,
			z TINYINT NOT NULL,
			m TINYINT NOT NULL,
			CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name),
			CONSTRAINT fk_gc_tn FOREIGN KEY (table_name) REFERENCES gpkg_contents(table_name),
			CONSTRAINT fk_gc_srs FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
		)`,
		`INSERT INTO gpkg_spatial_ref_sys (srs_name, srs_id, organization, organization_coordsys_id, definition, description)
			VALUES ('WGS 84 geodetic', 4326, 'EPSG', 4326, 'GEOGCS["WGS 84"]', 'longitude/latitude')`,
		`INSERT INTO gpkg_spatial_ref_sys (srs_name, srs_id, organization, organization_coordsys_id, definition, description)
			VALUES ('Undefined cartesian SRS', -1, 'NONE', -1, 'undefined', 'undefined cartesian coordinate reference system')`,
		`INSERT INTO gpkg_contents (table_name, data_type, identifier, srs_id)
			VALUES ('routes', 'features', 'routes', 4326)`,
		`INSERT INTO gpkg_geometry_columns (table_name, column_name, geometry_type_name, srs_id, z, m)
			VALUES ('routes', 'geom', 'LINESTRING', 4326, 0, 0)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func createRoutesTable(db *sql.DB, columns []string) error {
	ddl := `CREATE TABLE routes (id INTEGER PRIMARY KEY AUTOINCREMENT, geom BLOB`
	for _, c := range columns {
		ddl += fmt.Sprintf(`, %q TEXT`, c)
	}
	ddl += `)`
	_, err := db.Exec(ddl)
	return err
}

func insertFeature(tx *sql.Tx, columns []string, f geojson.Feature) error {
	var geomBlob []byte
	if f.Geometry != nil && f.Geometry.Type == "LineString" {
		geomBlob = encodeLineStringGPB(f.Geometry.Coordinates)
	}

	cols := []string{"geom"}
	vals := []any{geomBlob}
	for _, c := range columns {
		cols = append(cols, c)
		v := f.Properties[c]
		vals = append(vals, fmt.Sprintf("%v", v))
	}

	placeholders := ""
	for i := range cols {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
	}

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = fmt.Sprintf("%q", c)
	}
	query := fmt.Sprintf("INSERT INTO routes (%s) VALUES (%s)", joinStrings(quoted, ", "), placeholders)
	_, err := tx.Exec(query, vals...)
	return err
}

func joinStrings(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

// encodeLineStringGPB renders coords as a GeoPackage geometry blob: the
// 8-byte GeoPackage binary header (magic, version, flags, SRS id) followed
// by a standard little-endian WKB LineString.
func encodeLineStringGPB(coords [][2]float64) []byte {
	buf := make([]byte, 0, 8+9+len(coords)*16)

	buf = append(buf, 'G', 'P', 0x00, 0x01) // magic, version 0, flags: little-endian, no envelope
	srsID := make([]byte, 4)
	binary.LittleEndian.PutUint32(srsID, uint32(wgs84SRSID))
	buf = append(buf, srsID...)

	buf = append(buf, 0x01) // WKB byte order: little-endian
	wkbType := make([]byte, 4)
	binary.LittleEndian.PutUint32(wkbType, 2) // 2 = LineString
	buf = append(buf, wkbType...)

	numPoints := make([]byte, 4)
	binary.LittleEndian.PutUint32(numPoints, uint32(len(coords)))
	buf = append(buf, numPoints...)

	for _, pt := range coords {
		buf = append(buf, float64Bytes(pt[0])...)
		buf = append(buf, float64Bytes(pt[1])...)
	}
	return buf
}

func float64Bytes(v float64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	return b
}
