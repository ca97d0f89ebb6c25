// Copyright 2024 The Valrig Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package manifest

import (
	"encoding/json"

	"github.com/valrig/valrig/errors"
)

// RawValue is a loosely typed manifest value: either a JSON literal or an
// EnvRef object requesting indirection through an environment variable.
type RawValue struct {
	// Literal holds the decoded JSON literal when EnvRef is nil.
	Literal interface{}
	// EnvRef is non-nil when the value was written as an EnvRef object.
	EnvRef *EnvRef
}

// EnvRef is a parameter value resolved indirectly from an environment
// variable. Secret EnvRefs must never appear unredacted in persisted
// parameter snapshots.
type EnvRef struct {
	Name     string      `json:"$env"`
	Default  interface{} `json:"default,omitempty"`
	Required bool        `json:"required,omitempty"`
	Secret   bool        `json:"secret,omitempty"`
}

// envRefKey is the JSON object key that distinguishes an EnvRef from a plain
// object literal.
const envRefKey = "$env"

// UnmarshalJSON decodes either a JSON literal or an EnvRef object.
func (v *RawValue) UnmarshalJSON(b []byte) error {
	// Detect the EnvRef form: an object carrying the "$env" key.
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(b, &probe); err == nil {
		if _, ok := probe[envRefKey]; ok {
			var ref EnvRef
			if err := json.Unmarshal(b, &ref); err != nil {
				return errors.Wrap(err, "invalid EnvRef")
			}
			if ref.Name == "" {
				return errors.New("invalid EnvRef: empty variable name")
			}
			*v = RawValue{EnvRef: &ref}
			return nil
		}
	}

	var lit interface{}
	if err := json.Unmarshal(b, &lit); err != nil {
		return err
	}
	*v = RawValue{Literal: lit}
	return nil
}

// MarshalJSON encodes the value back to its manifest form.
func (v RawValue) MarshalJSON() ([]byte, error) {
	if v.EnvRef != nil {
		return json.Marshal(v.EnvRef)
	}
	return json.Marshal(v.Literal)
}
