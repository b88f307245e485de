package history

import (
	"sort"
)

// Shape is the closed set of time-series payloads the platform returns
type Shape int

const (
	ShapeEmpty Shape = iota
	ShapeFlat
	ShapeSeriesArray
	ShapeSeriesObject
	ShapeIdentifierMap
	ShapeOther
)

func (s Shape) String() string {
	switch s {
	case ShapeEmpty:
		return "empty"
	case ShapeFlat:
		return "flat"
	case ShapeSeriesArray:
		return "series-array"
	case ShapeSeriesObject:
		return "series-object"
	case ShapeIdentifierMap:
		return "identifier-map"
	default:
		return "other"
	}
}

const (
	keyDataList = "dataList"
	keyPoint    = "point"
)

func isSeriesObject(v interface{}) bool {
	m, ok := v.(map[string]interface{})
	if !ok {
		return false
	}
	_, ok = m[keyDataList]
	return ok
}

// Detect classifies a decoded JSON payload
func Detect(data interface{}) Shape {
	switch v := data.(type) {
	case nil:
		return ShapeEmpty
	case []interface{}:
		if len(v) == 0 {
			return ShapeFlat
		}
		for _, item := range v {
			if !isSeriesObject(item) {
				return ShapeFlat
			}
		}
		return ShapeSeriesArray
	case map[string]interface{}:
		if isSeriesObject(v) {
			return ShapeSeriesObject
		}
		if len(v) == 0 {
			return ShapeOther
		}
		for _, item := range v {
			if _, ok := item.([]interface{}); !ok {
				return ShapeOther
			}
		}
		return ShapeIdentifierMap
	}

	return ShapeOther
}

// sortedKeys gives identifier maps a stable series order
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func tail(list []interface{}, limit int) []interface{} {
	if limit <= 0 || len(list) <= limit {
		return list
	}
	return list[len(list)-limit:]
}

func trimSeriesObject(v interface{}, limit int) interface{} {
	m := v.(map[string]interface{})
	list, ok := m[keyDataList].([]interface{})
	if !ok {
		return m
	}

	out := make(map[string]interface{}, len(m))
	for k, val := range m {
		out[k] = val
	}
	out[keyDataList] = tail(list, limit)
	return out
}

// Trim keeps the last limit points of every series, preserving the
// payload's shape.  limit <= 0 disables trimming.
func Trim(data interface{}, limit int) interface{} {
	if limit <= 0 {
		return data
	}

	switch Detect(data) {
	case ShapeFlat:
		return tail(data.([]interface{}), limit)
	case ShapeSeriesArray:
		in := data.([]interface{})
		out := make([]interface{}, len(in))
		for i, s := range in {
			out[i] = trimSeriesObject(s, limit)
		}
		return out
	case ShapeSeriesObject:
		return trimSeriesObject(data, limit)
	case ShapeIdentifierMap:
		in := data.(map[string]interface{})
		out := make(map[string]interface{}, len(in))
		for k, v := range in {
			out[k] = tail(v.([]interface{}), limit)
		}
		return out
	}

	return data
}
