// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

package models

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FlexTime is a timestamp that tolerates heterogeneous wire encodings:
// native BSON datetimes, ISO-8601 strings, and numeric epochs. Records with
// no usable timestamp decode to an invalid FlexTime rather than an error,
// because a garbled timestamp means "skip this record", never "fail the
// request".
//
// The zero FlexTime is invalid.
type FlexTime struct {
	t  time.Time
	ok bool
}

// NewFlexTime returns a valid FlexTime for the given instant, normalized to UTC.
func NewFlexTime(t time.Time) FlexTime {
	return FlexTime{t: t.UTC(), ok: true}
}

// Time returns the instant in UTC. Only meaningful when Valid() is true.
func (ft FlexTime) Time() time.Time {
	return ft.t
}

// Valid reports whether the timestamp could be decoded.
func (ft FlexTime) Valid() bool {
	return ft.ok
}

// Date returns the UTC calendar date in YYYY-MM-DD form.
func (ft FlexTime) Date() string {
	return ft.t.UTC().Format("2006-01-02")
}

// ISO returns the RFC 3339 rendering, or empty string when invalid.
func (ft FlexTime) ISO() string {
	if !ft.ok {
		return ""
	}
	return ft.t.UTC().Format(time.RFC3339)
}

// isoLayouts lists the string encodings observed in synced records, most
// specific first.
var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseFlexibleTime normalizes any of the observed timestamp encodings to a
// UTC instant. The bool result is false when the value is absent or unusable.
func ParseFlexibleTime(v interface{}) (time.Time, bool) {
	switch tv := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return tv.UTC(), true
	case *time.Time:
		if tv == nil {
			return time.Time{}, false
		}
		return tv.UTC(), true
	case FlexTime:
		return tv.t, tv.ok
	case primitive.DateTime:
		return tv.Time().UTC(), true
	case string:
		return parseISOString(tv)
	case int64:
		return epochToTime(float64(tv)), true
	case float64:
		return epochToTime(tv), true
	default:
		return time.Time{}, false
	}
}

func parseISOString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// epochToTime interprets a numeric epoch as seconds unless the magnitude
// implies milliseconds (anything past the year ~5138 in seconds).
func epochToTime(epoch float64) time.Time {
	if epoch > 1e11 {
		return time.UnixMilli(int64(epoch)).UTC()
	}
	return time.Unix(int64(epoch), 0).UTC()
}

// MarshalJSON renders the timestamp as an ISO-8601 string, or null when invalid.
func (ft FlexTime) MarshalJSON() ([]byte, error) {
	if !ft.ok {
		return []byte("null"), nil
	}
	return json.Marshal(ft.ISO())
}

// UnmarshalJSON accepts ISO strings, numeric epochs, and null.
func (ft *FlexTime) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		*ft = FlexTime{}
		return nil //nolint:nilerr // unusable timestamps decode to invalid, not error
	}
	t, ok := ParseFlexibleTime(v)
	*ft = FlexTime{t: t, ok: ok}
	return nil
}

// MarshalBSONValue stores the timestamp as a native BSON datetime, or null.
func (ft FlexTime) MarshalBSONValue() (bsontype.Type, []byte, error) {
	if !ft.ok {
		return bson.TypeNull, nil, nil
	}
	return bson.MarshalValue(ft.t)
}

// UnmarshalBSONValue accepts BSON datetimes, ISO strings, numeric epochs,
// and null. Unusable values decode to an invalid FlexTime.
func (ft *FlexTime) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	rv := bson.RawValue{Type: t, Value: data}
	switch t {
	case bson.TypeDateTime:
		*ft = NewFlexTime(rv.Time())
	case bson.TypeString:
		parsed, ok := parseISOString(rv.StringValue())
		*ft = FlexTime{t: parsed, ok: ok}
	case bson.TypeInt64:
		*ft = NewFlexTime(epochToTime(float64(rv.Int64())))
	case bson.TypeDouble:
		*ft = NewFlexTime(epochToTime(rv.Double()))
	default:
		*ft = FlexTime{}
	}
	return nil
}

// FlexMap is a response map that tolerates arriving either as a structured
// document or as a JSON-encoded string. Unparsable strings decode to an
// empty map, never an error.
type FlexMap map[string]interface{}

// UnmarshalJSON accepts a JSON object or a string containing a JSON object.
func (fm *FlexMap) UnmarshalJSON(data []byte) error {
	var direct map[string]interface{}
	if err := json.Unmarshal(data, &direct); err == nil {
		*fm = direct
		return nil
	}

	var encoded string
	if err := json.Unmarshal(data, &encoded); err == nil {
		*fm = parseEncodedMap(encoded)
		return nil
	}

	*fm = FlexMap{}
	return nil
}

// UnmarshalBSONValue accepts an embedded document or a JSON-encoded string.
func (fm *FlexMap) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	rv := bson.RawValue{Type: t, Value: data}
	switch t {
	case bson.TypeEmbeddedDocument:
		var m map[string]interface{}
		if err := rv.Unmarshal(&m); err != nil {
			*fm = FlexMap{}
			return nil //nolint:nilerr // degrade to empty, never fail the record
		}
		*fm = m
	case bson.TypeString:
		*fm = parseEncodedMap(rv.StringValue())
	default:
		*fm = FlexMap{}
	}
	return nil
}

// parseEncodedMap decodes a JSON-encoded response string, returning an empty
// map for anything unparsable.
func parseEncodedMap(s string) FlexMap {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return FlexMap{}
	}
	return m
}
