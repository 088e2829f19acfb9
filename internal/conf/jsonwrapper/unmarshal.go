// Package jsonwrapper contains a strict JSON unmarshaler.
package jsonwrapper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
)

// on top of the standard decoder:
// - unknown fields are rejected
// - existing slice elements are never reused (https://github.com/golang/go/issues/21092)
// - non-nullable slices cannot be set to nil

func validate(v reflect.Value, raw any, path string) error {
	switch v.Kind() {
	case reflect.Slice:
		if raw == nil {
			if path != "" {
				return fmt.Errorf("cannot set slice '%s' to nil", path)
			}
			return fmt.Errorf("cannot set slice to nil")
		}

		// clear the slice so that the decoder allocates fresh elements
		if !v.IsNil() {
			v.Set(reflect.Zero(v.Type()))
		}

	case reflect.Struct:
		m, ok := raw.(map[string]any)
		if !ok {
			return nil
		}

		vType := v.Type()
		for i := 0; i < v.NumField(); i++ {
			key := vType.Field(i).Tag.Get("json")
			if key == "" || key == "-" {
				continue
			}
			key = strings.Split(key, ",")[0]

			rawField, ok := m[key]
			if !ok {
				continue
			}

			subPath := key
			if path != "" {
				subPath = path + "." + key
			}
			if err := validate(v.Field(i), rawField, subPath); err != nil {
				return err
			}
		}
	}

	return nil
}

// Unmarshal decodes JSON.
func Unmarshal(buf []byte, dest any) error {
	return Decode(bytes.NewReader(buf), dest)
}

// Decode decodes JSON.
func Decode(r io.Reader, dest any) error {
	buf, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	var raw any
	err = json.Unmarshal(buf, &raw)
	if err != nil {
		return err
	}

	err = validate(reflect.ValueOf(dest).Elem(), raw, "")
	if err != nil {
		return err
	}

	d := json.NewDecoder(bytes.NewReader(buf))
	d.DisallowUnknownFields()
	return d.Decode(dest)
}
