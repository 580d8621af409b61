// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

// Package mapping turns raw transport payloads into the values handed to
// listener pipelines.
package mapping

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/core"
)

const DefaultTypeProperty = "ClassName"

// Converter rewrites msg.Payload in place.
type Converter interface {
	Convert(msg *core.Message) error
}

// New returns the converter for mode. registry may be nil.
func New(mode core.MappingMode, registry *TypeRegistry, typeProperty string) Converter {
	if mode == core.MappingJSON {
		return NewJSON(registry, typeProperty)
	}
	return None{}
}

// None leaves payloads untouched.
type None struct{}

func (None) Convert(*core.Message) error { return nil }

// TypeRegistry resolves a type id carried by a message to a Go type.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{types: make(map[string]reflect.Type)}
}

// Register binds id to the dynamic type of sample. Pointer samples register
// their element type.
func (r *TypeRegistry) Register(id string, sample any) {
	t := reflect.TypeOf(sample)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[id] = t
}

// New returns a pointer to a fresh zero value of the type registered as id.
func (r *TypeRegistry) New(id string) (any, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	t, ok := r.types[id]
	r.mu.RUnlock()
	if !ok || t == nil {
		return nil, false
	}
	return reflect.New(t).Interface(), true
}

// JSON decodes string and []byte payloads. When the message carries a type
// id that the registry knows, the payload is decoded into that type;
// otherwise into generic JSON values (objects become map[string]any).
type JSON struct {
	registry     *TypeRegistry
	typeProperty string
}

func NewJSON(registry *TypeRegistry, typeProperty string) *JSON {
	if typeProperty == "" {
		typeProperty = DefaultTypeProperty
	}
	return &JSON{registry: registry, typeProperty: typeProperty}
}

func (c *JSON) Convert(msg *core.Message) error {
	var raw []byte
	switch p := msg.Payload.(type) {
	case string:
		raw = []byte(p)
	case []byte:
		raw = p
	default:
		return nil
	}

	var target any
	if id, ok := msg.Property(c.typeProperty); ok {
		if v, known := c.registry.New(id); known {
			target = v
		}
	}

	if target != nil {
		if err := json.Unmarshal(raw, target); err != nil {
			return fmt.Errorf("%w: decode %s payload: %w", core.ErrPayloadShape, c.typeProperty, err)
		}
		msg.Payload = target
		return nil
	}

	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("%w: decode json payload: %w", core.ErrPayloadShape, err)
	}
	msg.Payload = normalizeNumbers(v)
	return nil
}

// normalizeNumbers replaces json.Number with int64 when integral, float64
// otherwise.
func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case map[string]any:
		for k, child := range val {
			val[k] = normalizeNumbers(child)
		}
		return val
	case []any:
		for i, child := range val {
			val[i] = normalizeNumbers(child)
		}
		return val
	default:
		return v
	}
}

// ObjectMapper converts decoded objects into the generic map form the engine
// accepts for structured data entries.
type ObjectMapper interface {
	ToMap(v any) (map[string]any, error)
}

// JSONObjectMapper converts by a JSON round trip, so `json` struct tags
// decide the field names.
type JSONObjectMapper struct{}

func (JSONObjectMapper) ToMap(v any) (map[string]any, error) {
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: convert %T: %w", core.ErrPayloadShape, v, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %T is not an object: %w", core.ErrPayloadShape, v, err)
	}
	return m, nil
}
