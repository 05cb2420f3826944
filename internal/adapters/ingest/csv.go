package ingest

import (
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed telemetry.schema.json
var schemaJSON string

const schemaURL = "telemetry.schema.json"

var (
	schemaOnce sync.Once
	rowSchema  *jsonschema.Schema
	schemaErr  error
)

// RowSchema returns the compiled schema every CSV row must satisfy.
func RowSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		rowSchema, schemaErr = c.Compile(schemaURL)
	})
	return rowSchema, schemaErr
}

// normalizeHeader lower-cases a column name and maps the legacy identity
// columns onto their canonical keys.
func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	if h == "vehicleid" || h == "vehicle_id" {
		return "vehicleId"
	}
	return h
}

// ParseCSV reads a telemetry upload. The header is normalized, deviceid stands
// in for a missing vehicleId column, and every row is validated against
// RowSchema. The first invalid row fails the whole upload.
func ParseCSV(r io.Reader) ([]map[string]any, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyPayload
	}
	if err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrInvalidCSV, err)
	}
	cols := make([]string, len(header))
	hasVehicle := false
	deviceCol := -1
	for i, h := range header {
		cols[i] = normalizeHeader(h)
		switch cols[i] {
		case "vehicleId":
			hasVehicle = true
		case "deviceid":
			deviceCol = i
		}
	}
	if !hasVehicle && deviceCol >= 0 {
		cols[deviceCol] = "vehicleId"
		hasVehicle = true
	}
	var missing []string
	if !hasVehicle {
		missing = append(missing, "vehicleId")
	}
	if !slices.Contains(cols, "timestamp") {
		missing = append(missing, "timestamp")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required columns: %s", ErrInvalidCSV, strings.Join(missing, ", "))
	}

	schema, err := RowSchema()
	if err != nil {
		return nil, err
	}

	var rows []map[string]any
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrInvalidCSV, line, err)
		}
		row := make(map[string]any, len(cols))
		for i, cell := range rec {
			if i >= len(cols) {
				break
			}
			if v, ok := cellValue(cols[i], cell); ok {
				row[cols[i]] = v
			}
		}
		if err := schema.Validate(row); err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrInvalidCSV, line, err)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyPayload
	}
	return rows, nil
}

// cellValue types a CSV cell. Empty cells are absent; identity columns stay strings.
func cellValue(col, cell string) (any, bool) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return nil, false
	}
	if col == "vehicleId" || col == "timestamp" {
		return cell, true
	}
	if f, err := strconv.ParseFloat(cell, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f, true
	}
	if b, err := strconv.ParseBool(cell); err == nil {
		return b, true
	}
	return cell, true
}
