// Copyright 2024 The Valrig Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package manifest

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/valrig/valrig/errors"
)

// ParamType is the declared type of a case parameter.
type ParamType string

// Parameter types. Array variants exist for string, int and double.
const (
	TypeString ParamType = "string"
	TypeInt    ParamType = "int"
	TypeDouble ParamType = "double"
	TypeBool   ParamType = "bool"
	TypeEnum   ParamType = "enum"
	TypePath   ParamType = "path"
	TypeFile   ParamType = "file"
	TypeFolder ParamType = "folder"

	TypeStringArray ParamType = "stringArray"
	TypeIntArray    ParamType = "intArray"
	TypeDoubleArray ParamType = "doubleArray"
)

// ParamDef declares one case parameter: its type, whether it is required,
// its default, and the constraints a supplied value must satisfy.
type ParamDef struct {
	Name     string    `json:"name"`
	Type     ParamType `json:"type"`
	Required bool      `json:"required"`
	Default  *RawValue `json:"default,omitempty"`
	Min      *float64  `json:"min,omitempty"`
	Max      *float64  `json:"max,omitempty"`
	Values   []string  `json:"values,omitempty"`
	Pattern  string    `json:"pattern,omitempty"`
}

// Convert converts a loosely typed literal to the declared parameter type and
// validates it against the definition's constraints. It is the single
// validation entry point for parameter values.
//
// Environment-resolved values arrive as strings, so every type also accepts
// its string rendering.
func (d *ParamDef) Convert(raw interface{}) (Value, error) {
	var v Value
	var err error
	switch d.Type {
	case TypeString, TypePath, TypeFile, TypeFolder, TypeEnum:
		v, err = convertString(d.Type, raw)
	case TypeInt:
		v, err = convertInt(raw)
	case TypeDouble:
		v, err = convertDouble(raw)
	case TypeBool:
		v, err = convertBool(raw)
	case TypeStringArray:
		v, err = convertStringArray(raw)
	case TypeIntArray:
		v, err = convertIntArray(raw)
	case TypeDoubleArray:
		v, err = convertDoubleArray(raw)
	default:
		return Value{}, errors.Errorf("parameter %s: unsupported type %q", d.Name, d.Type)
	}
	if err != nil {
		return Value{}, errors.Wrapf(err, "parameter %s", d.Name)
	}
	if err := d.validate(v); err != nil {
		return Value{}, errors.Wrapf(err, "parameter %s", d.Name)
	}
	return v, nil
}

// validate checks a converted value against the numeric range, enum set and
// regex pattern constraints.
func (d *ParamDef) validate(v Value) error {
	checkRange := func(f float64) error {
		if d.Min != nil && f < *d.Min {
			return errors.Errorf("value %v is below minimum %v", f, *d.Min)
		}
		if d.Max != nil && f > *d.Max {
			return errors.Errorf("value %v is above maximum %v", f, *d.Max)
		}
		return nil
	}

	switch v.Type {
	case TypeInt:
		return checkRange(float64(v.Int))
	case TypeDouble:
		return checkRange(v.Float)
	case TypeIntArray:
		for _, n := range v.Ints {
			if err := checkRange(float64(n)); err != nil {
				return err
			}
		}
	case TypeDoubleArray:
		for _, f := range v.Floats {
			if err := checkRange(f); err != nil {
				return err
			}
		}
	case TypeEnum:
		// Membership is a case-sensitive exact match against the declared set.
		for _, allowed := range d.Values {
			if v.Str == allowed {
				return nil
			}
		}
		return errors.Errorf("value %q is not in the declared set %v", v.Str, d.Values)
	case TypeString, TypePath, TypeFile, TypeFolder:
		if d.Pattern != "" {
			re, err := regexp.Compile(d.Pattern)
			if err != nil {
				return errors.Wrapf(err, "invalid pattern %q", d.Pattern)
			}
			if !re.MatchString(v.Str) {
				return errors.Errorf("value %q does not match pattern %q", v.Str, d.Pattern)
			}
		}
	}
	return nil
}

// Value is the typed result of parameter conversion: a tagged variant over
// the fixed parameter-type set. Exactly the field matching Type is valid.
type Value struct {
	Type ParamType

	Str    string
	Int    int64
	Float  float64
	Bool   bool
	Strs   []string
	Ints   []int64
	Floats []float64

	// Secret marks values resolved from secret EnvRefs so the persistence
	// layer redacts them.
	Secret bool
}

// Interface returns the native Go representation of the value, used when
// snapshotting resolved parameters.
func (v Value) Interface() interface{} {
	switch v.Type {
	case TypeInt:
		return v.Int
	case TypeDouble:
		return v.Float
	case TypeBool:
		return v.Bool
	case TypeStringArray:
		return v.Strs
	case TypeIntArray:
		return v.Ints
	case TypeDoubleArray:
		return v.Floats
	default:
		return v.Str
	}
}

// ArgTokens renders the value as tokens for a leaf interpreter command line:
// booleans as literal true/false, arrays as a single native list literal.
func (v Value) ArgTokens() []string {
	switch v.Type {
	case TypeInt:
		return []string{strconv.FormatInt(v.Int, 10)}
	case TypeDouble:
		return []string{strconv.FormatFloat(v.Float, 'g', -1, 64)}
	case TypeBool:
		return []string{strconv.FormatBool(v.Bool)}
	case TypeStringArray:
		return []string{strings.Join(v.Strs, ",")}
	case TypeIntArray:
		elems := make([]string, len(v.Ints))
		for i, n := range v.Ints {
			elems[i] = strconv.FormatInt(n, 10)
		}
		return []string{strings.Join(elems, ",")}
	case TypeDoubleArray:
		elems := make([]string, len(v.Floats))
		for i, f := range v.Floats {
			elems[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return []string{strings.Join(elems, ",")}
	default:
		return []string{v.Str}
	}
}

func convertString(typ ParamType, raw interface{}) (Value, error) {
	s, ok := raw.(string)
	if !ok {
		return Value{}, errors.Errorf("cannot convert %T to %s", raw, typ)
	}
	return Value{Type: typ, Str: s}, nil
}

func toInt64(raw interface{}) (int64, bool, error) {
	switch n := raw.(type) {
	case int64:
		return n, true, nil
	case int:
		return int64(n), true, nil
	case float64:
		if n != math.Trunc(n) {
			return 0, true, errors.Errorf("value %v is not an integer", n)
		}
		return int64(n), true, nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, true, errors.Errorf("value %v is not an integer", n)
		}
		return i, true, nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, true, errors.Errorf("value %q is not an integer", n)
		}
		return i, true, nil
	default:
		return 0, false, nil
	}
}

func convertInt(raw interface{}) (Value, error) {
	i, handled, err := toInt64(raw)
	if !handled {
		return Value{}, errors.Errorf("cannot convert %T to int", raw)
	}
	if err != nil {
		return Value{}, err
	}
	return Value{Type: TypeInt, Int: i}, nil
}

func toFloat64(raw interface{}) (float64, bool, error) {
	switch n := raw.(type) {
	case float64:
		return n, true, nil
	case int64:
		return float64(n), true, nil
	case int:
		return float64(n), true, nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, true, errors.Errorf("value %v is not a number", n)
		}
		return f, true, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, true, errors.Errorf("value %q is not a number", n)
		}
		return f, true, nil
	default:
		return 0, false, nil
	}
}

func convertDouble(raw interface{}) (Value, error) {
	f, handled, err := toFloat64(raw)
	if !handled {
		return Value{}, errors.Errorf("cannot convert %T to double", raw)
	}
	if err != nil {
		return Value{}, err
	}
	return Value{Type: TypeDouble, Float: f}, nil
}

func convertBool(raw interface{}) (Value, error) {
	switch b := raw.(type) {
	case bool:
		return Value{Type: TypeBool, Bool: b}, nil
	case string:
		switch strings.TrimSpace(b) {
		case "true":
			return Value{Type: TypeBool, Bool: true}, nil
		case "false":
			return Value{Type: TypeBool, Bool: false}, nil
		}
		return Value{}, errors.Errorf("value %q is not a bool", b)
	default:
		return Value{}, errors.Errorf("cannot convert %T to bool", raw)
	}
}

// elements normalizes an array-typed raw value to a slice of elements.
// A string is treated as a comma-separated list, the form environment
// variables arrive in.
func elements(raw interface{}) ([]interface{}, error) {
	switch a := raw.(type) {
	case []interface{}:
		return a, nil
	case string:
		if a == "" {
			return nil, nil
		}
		parts := strings.Split(a, ",")
		elems := make([]interface{}, len(parts))
		for i, p := range parts {
			elems[i] = strings.TrimSpace(p)
		}
		return elems, nil
	default:
		return nil, errors.Errorf("cannot convert %T to an array", raw)
	}
}

func convertStringArray(raw interface{}) (Value, error) {
	elems, err := elements(raw)
	if err != nil {
		return Value{}, err
	}
	strs := make([]string, 0, len(elems))
	for _, e := range elems {
		s, ok := e.(string)
		if !ok {
			return Value{}, errors.Errorf("array element %v is not a string", e)
		}
		strs = append(strs, s)
	}
	return Value{Type: TypeStringArray, Strs: strs}, nil
}

func convertIntArray(raw interface{}) (Value, error) {
	elems, err := elements(raw)
	if err != nil {
		return Value{}, err
	}
	ints := make([]int64, 0, len(elems))
	for _, e := range elems {
		i, handled, err := toInt64(e)
		if !handled {
			return Value{}, errors.Errorf("array element %v is not an integer", e)
		}
		if err != nil {
			return Value{}, err
		}
		ints = append(ints, i)
	}
	return Value{Type: TypeIntArray, Ints: ints}, nil
}

func convertDoubleArray(raw interface{}) (Value, error) {
	elems, err := elements(raw)
	if err != nil {
		return Value{}, err
	}
	floats := make([]float64, 0, len(elems))
	for _, e := range elems {
		f, handled, err := toFloat64(e)
		if !handled {
			return Value{}, errors.Errorf("array element %v is not a number", e)
		}
		if err != nil {
			return Value{}, err
		}
		floats = append(floats, f)
	}
	return Value{Type: TypeDoubleArray, Floats: floats}, nil
}
