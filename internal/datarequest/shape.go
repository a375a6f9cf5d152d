package datarequest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
)

// Shape turns a decompressed payload into handler content.
//
//	locations: {"<id>": {column: value}}
//	devices:   {"<location_id>": {"<device_id>": {column: value}}}
//	other:     the payload as a string
func Shape(typ string, data []byte) (any, error) {
	switch typ {
	case TypeLocations:
		return shapeRows(data, func(row map[string]any, out map[string]any) error {
			id, ok := row["id"]
			if !ok {
				return errors.New("locations: id column missing")
			}
			delete(row, "id")
			out[fmt.Sprint(id)] = row
			return nil
		})
	case TypeDevices:
		return shapeRows(data, func(row map[string]any, out map[string]any) error {
			loc, ok1 := row["location_id"]
			dev, ok2 := row["device_id"]
			if !ok1 || !ok2 {
				return errors.New("devices: location_id and device_id columns required")
			}
			delete(row, "location_id")
			delete(row, "device_id")
			key := fmt.Sprint(loc)
			devices, _ := out[key].(map[string]any)
			if devices == nil {
				devices = map[string]any{}
				out[key] = devices
			}
			devices[fmt.Sprint(dev)] = row
			return nil
		})
	default:
		return string(data), nil
	}
}

func shapeRows(data []byte, add func(row, out map[string]any) error) (map[string]any, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = SnakeCase(strings.TrimSpace(h))
	}

	out := map[string]any{}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) == 1 && rec[0] == "" {
			continue
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if i < len(rec) {
				row[c] = Normalize(strings.TrimSpace(rec[i]))
			}
		}
		if err := add(row, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SnakeCase converts CamelCase to snake_case: "deviceId" -> "device_id".
func SnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Normalize converts a CSV cell to int64, float64 or bool when it reads as one.
func Normalize(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if !hasLetter(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	switch s {
	case "true", "True":
		return true
	case "false", "False":
		return false
	}
	return s
}

// hasLetter keeps "inf", "nan" and hex floats as strings.
func hasLetter(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsLetter(r) && r != 'e' && r != 'E'
	}) >= 0
}
