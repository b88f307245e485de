package history

import (
	"fmt"
)

// Point is one sample, time and value kept verbatim
type Point struct {
	Time  interface{} `json:"time"`
	Value interface{} `json:"value"`
}

// Series is the uniform form every payload shape normalizes to
type Series struct {
	Identifier *string `json:"identifier"`
	Name       *string `json:"name"`
	Points     []Point `json:"points"`
}

type Summary struct {
	SeriesCount int `json:"seriesCount"`
	TotalPoints int `json:"totalPoints"`
}

func strPtr(s string) *string {
	return &s
}

func asString(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, s != ""
	case nil:
		return "", false
	default:
		return fmt.Sprint(s), true
	}
}

func toPoints(list []interface{}) []Point {
	points := make([]Point, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]interface{}); ok {
			points = append(points, Point{Time: m["time"], Value: m["value"]})
			continue
		}
		points = append(points, Point{Value: item})
	}
	return points
}

// seriesFromObject reads a {point, dataList} object.  point is either the
// identifier or an object with identifier/name.
func seriesFromObject(m map[string]interface{}) Series {
	s := Series{}

	switch p := m[keyPoint].(type) {
	case map[string]interface{}:
		if id, ok := asString(p["identifier"]); ok {
			s.Identifier = strPtr(id)
		}
		if name, ok := asString(p["name"]); ok {
			s.Name = strPtr(name)
		}
	default:
		if id, ok := asString(p); ok {
			s.Identifier = strPtr(id)
		}
	}

	if s.Identifier == nil {
		if id, ok := asString(m["identifier"]); ok {
			s.Identifier = strPtr(id)
		}
	}
	if s.Name == nil {
		if name, ok := asString(m["name"]); ok {
			s.Name = strPtr(name)
		}
	}

	list, _ := m[keyDataList].([]interface{})
	s.Points = toPoints(list)
	return s
}

// Normalize converts any accepted payload into a series list
func Normalize(data interface{}) []Series {
	switch Detect(data) {
	case ShapeFlat:
		list := data.([]interface{})
		if len(list) == 0 {
			return []Series{}
		}
		return []Series{{Points: toPoints(list)}}
	case ShapeSeriesArray:
		in := data.([]interface{})
		out := make([]Series, 0, len(in))
		for _, item := range in {
			out = append(out, seriesFromObject(item.(map[string]interface{})))
		}
		return out
	case ShapeSeriesObject:
		return []Series{seriesFromObject(data.(map[string]interface{}))}
	case ShapeIdentifierMap:
		m := data.(map[string]interface{})
		out := make([]Series, 0, len(m))
		for _, k := range sortedKeys(m) {
			out = append(out, Series{Identifier: strPtr(k), Points: toPoints(m[k].([]interface{}))})
		}
		return out
	}

	return []Series{}
}

// Summarize counts series and points of any accepted payload
func Summarize(data interface{}) Summary {
	series := Normalize(data)

	sum := Summary{SeriesCount: len(series)}
	for _, s := range series {
		sum.TotalPoints += len(s.Points)
	}
	return sum
}
