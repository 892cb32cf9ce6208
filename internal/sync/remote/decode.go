// Package remote provides the HTTP client for the landmark REST API.
package remote

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// The endpoint answers with either a bare JSON array of records or a
// {"success": ..., "data": [...]} envelope, and numeric fields sometimes
// arrive as strings. The decoders below tolerate both shapes.

type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	ID      flexInt64       `json:"id"`
	Message string          `json:"message"`
}

type rawLandmark struct {
	ID    flexInt64   `json:"id"`
	Title string      `json:"title"`
	Lat   flexFloat64 `json:"lat"`
	Lon   flexFloat64 `json:"lon"`
	Image string      `json:"image"`
}

// flexInt64 decodes a JSON number or numeric string.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %q", s)
	}
	*f = flexInt64(n)
	return nil
}

// flexFloat64 decodes a JSON number or numeric string.
type flexFloat64 float64

func (f *flexFloat64) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q", s)
	}
	*f = flexFloat64(n)
	return nil
}

// decodeList parses a list response in either supported shape.
func decodeList(body []byte) ([]Landmark, error) {
	raw := findArray(body)
	if raw == nil {
		return nil, fmt.Errorf("response carries no record array")
	}

	var records []rawLandmark
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, err
	}

	out := make([]Landmark, 0, len(records))
	for _, r := range records {
		out = append(out, Landmark{
			ID:        int64(r.ID),
			Title:     r.Title,
			Latitude:  float64(r.Lat),
			Longitude: float64(r.Lon),
			ImageURL:  r.Image,
		})
	}
	return out, nil
}

// findArray locates the record array in a bare-array or enveloped body.
func findArray(body []byte) json.RawMessage {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		return json.RawMessage(trimmed)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}
	if strings.HasPrefix(strings.TrimSpace(string(env.Data)), "[") {
		return env.Data
	}
	return nil
}

// decodeAssignedID extracts the server-assigned id from a create response.
// The id may sit at the top level or inside the data object.
func decodeAssignedID(body []byte) (int64, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return 0, err
	}
	if env.ID > 0 {
		return int64(env.ID), nil
	}

	if len(env.Data) > 0 {
		var inner struct {
			ID flexInt64 `json:"id"`
		}
		if err := json.Unmarshal(env.Data, &inner); err == nil && inner.ID > 0 {
			return int64(inner.ID), nil
		}
	}

	return 0, fmt.Errorf("no id field in response: %s", truncate(body))
}
