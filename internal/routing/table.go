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

package routing

import (
	"sort"
	"sync"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/core"
)

// Table indexes the live endpoint definitions by endpoint id.
type Table struct {
	routes sync.Map
}

func NewTable() *Table {
	return &Table{}
}

func (t *Table) Add(def core.EndpointDefinition) {
	t.routes.Store(def.ID, def)
}

func (t *Table) Remove(id string) {
	t.routes.Delete(id)
}

func (t *Table) Lookup(id string) (core.EndpointDefinition, bool) {
	v, ok := t.routes.Load(id)
	if !ok {
		return core.EndpointDefinition{}, false
	}
	return v.(core.EndpointDefinition), true
}

func (t *Table) ReplaceAll(defs []core.EndpointDefinition) {
	t.routes.Range(func(key, _ any) bool {
		t.routes.Delete(key)
		return true
	})
	for _, d := range defs {
		t.routes.Store(d.ID, d)
	}
}

// List returns the definitions sorted by id.
func (t *Table) List() []core.EndpointDefinition {
	var out []core.EndpointDefinition
	t.routes.Range(func(_, v any) bool {
		out = append(out, v.(core.EndpointDefinition))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ByTransport groups endpoint ids by the transport they consume from.
func (t *Table) ByTransport() map[string][]string {
	out := make(map[string][]string)
	for _, d := range t.List() {
		out[d.Transport] = append(out[d.Transport], d.ID)
	}
	return out
}
