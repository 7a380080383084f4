//
// Copyright (c) 2021, 2026 Aquila Data, Inc. All rights reserved.
//
// Licensed under the Universal Permissive License v 1.0 as shown at
//  https://opensource.org/licenses/UPL
//

// Package jsonutil provides utility functions for manipulating JSON values.
package jsonutil

import (
	"encoding/json"
	"fmt"
)

const emptyJSONObject = "{}"

// AsJSON encodes the specified value into a JSON string.
func AsJSON(v interface{}) string {
	return asJSONString(v, false)
}

// AsPrettyJSON encodes the specified value into a JSON string, adding
// appropriate indents in the returned string.
func AsPrettyJSON(v interface{}) string {
	return asJSONString(v, true)
}

func asJSONString(v interface{}, pretty bool) string {
	var b []byte
	var err error
	if pretty {
		b, err = json.MarshalIndent(v, "", "  ")
	} else {
		b, err = json.Marshal(v)
	}
	if err != nil {
		return emptyJSONObject
	}
	return string(b)
}

// ToObject decodes the specified JSON string into a map.
func ToObject(jsonStr string) (v map[string]interface{}, err error) {
	err = json.Unmarshal([]byte(jsonStr), &v)
	return v, err
}

// GetStringFromObject looks for the specified field in the map and returns
// its value as a string. ok reports whether the field exists and is a string.
func GetStringFromObject(m map[string]interface{}, field string) (s string, ok bool) {
	if m == nil {
		return
	}
	var v interface{}
	if v, ok = m[field]; !ok {
		return
	}
	s, ok = v.(string)
	return
}

// GetNumberFromObject looks for the specified field in the map and returns
// its value as a float64. ok reports whether the field exists and is a number.
func GetNumberFromObject(m map[string]interface{}, field string) (f float64, ok bool) {
	if m == nil {
		return
	}
	var v interface{}
	if v, ok = m[field]; !ok {
		return
	}
	f, ok = v.(float64)
	return
}

// GetObjectFromObject looks for the specified field in the map and returns
// its value as a map. ok reports whether the field exists and is an object.
func GetObjectFromObject(m map[string]interface{}, field string) (obj map[string]interface{}, ok bool) {
	if m == nil {
		return
	}
	var v interface{}
	if v, ok = m[field]; !ok {
		return
	}
	obj, ok = v.(map[string]interface{})
	return
}

// GetArrayFromObject looks for the specified field in the map and returns
// its value as a slice. ok reports whether the field exists and is an array.
func GetArrayFromObject(m map[string]interface{}, field string) (a []interface{}, ok bool) {
	if m == nil {
		return
	}
	var v interface{}
	if v, ok = m[field]; !ok {
		return
	}
	a, ok = v.([]interface{})
	return
}

// GetString decodes the specified JSON data and returns the string value of
// the specified field, or an error if the data cannot be decoded or does not
// contain a string value for the field.
func GetString(data []byte, field string) (string, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return "", err
	}

	s, ok := GetStringFromObject(m, field)
	if !ok {
		return "", fmt.Errorf("cannot find string field %q in JSON %q", field, string(data))
	}

	return s, nil
}

// ExpectString checks that the specified value is a string and returns it.
func ExpectString(v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expect a string value, got %T", v)
	}
	return s, nil
}

// ExpectNumber checks that the specified value is a number and returns it.
func ExpectNumber(v interface{}) (float64, error) {
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("expect a number value, got %T", v)
	}
	return f, nil
}

// ExpectObject checks that the specified value is a JSON object and returns it.
func ExpectObject(v interface{}) (map[string]interface{}, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("expect a JSON object, got %T", v)
	}
	return m, nil
}
