// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package handlers

import (
	"time"

	"storj.io/common/uuid"
)

// Job params arrive as a JSON object, so numbers are float64 and every
// typed read has to coerce.

func stringParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

func timeParam(params map[string]any, key string) (time.Time, error) {
	raw := stringParam(params, key)
	if raw == "" {
		return time.Time{}, Error.New("missing %q", key)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, Error.New("bad %q: %v", key, err)
	}
	return t.UTC(), nil
}

func intParam(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

func floatParam(params map[string]any, key string, fallback float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return fallback
}

func uuidParam(params map[string]any, key string) (uuid.UUID, error) {
	raw := stringParam(params, key)
	if raw == "" {
		return uuid.UUID{}, Error.New("missing %q", key)
	}
	id, err := uuid.FromString(raw)
	if err != nil {
		return uuid.UUID{}, Error.New("bad %q: %v", key, err)
	}
	return id, nil
}

func uuidListParam(params map[string]any, key string) ([]uuid.UUID, error) {
	raw, ok := params[key].([]any)
	if !ok {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, Error.New("bad %q entry %v", key, item)
		}
		id, err := uuid.FromString(s)
		if err != nil {
			return nil, Error.New("bad %q entry: %v", key, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func mapParam(params map[string]any, key string) map[string]any {
	m, _ := params[key].(map[string]any)
	return m
}
