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

package bridge

import (
	"encoding/json"
	"net/http"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/core"
)

type endpointStatus struct {
	ID          string `json:"id"`
	Consumer    string `json:"consumer"`
	Transport   string `json:"transport"`
	Destination string `json:"destination"`
	Selector    string `json:"selector,omitempty"`
	Action      string `json:"action"`
	Definitions string `json:"definitions"`
	Mapping     string `json:"mapping"`
	Workers     int    `json:"workers"`
}

type status struct {
	Endpoints   []endpointStatus    `json:"endpoints"`
	ByTransport map[string][]string `json:"by_transport"`
	Sessions    []string            `json:"sessions"`
}

func toEndpointStatus(d core.EndpointDefinition) endpointStatus {
	return endpointStatus{
		ID:          d.ID,
		Consumer:    d.Name(),
		Transport:   d.Transport,
		Destination: d.Destination,
		Selector:    d.Selector,
		Action:      d.Action.String(),
		Definitions: d.DefinitionsIdentifier,
		Mapping:     d.Mapping.String(),
		Workers:     d.Concurrency,
	}
}

// StatusHandler reports the live consumers and the logged-in identities.
// With ?endpoint=<id> it reports that one consumer, or 404.
func (b *Bridge) StatusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.URL.Query().Get("endpoint"); id != "" {
			def, ok := b.table.Lookup(id)
			if !ok {
				http.Error(w, "unknown endpoint", http.StatusNotFound)
				return
			}
			writeJSON(w, toEndpointStatus(def))
			return
		}

		defs := b.table.List()
		st := status{
			Endpoints:   make([]endpointStatus, 0, len(defs)),
			ByTransport: b.table.ByTransport(),
			Sessions:    b.sessions.Users(),
		}
		for _, d := range defs {
			st.Endpoints = append(st.Endpoints, toEndpointStatus(d))
		}
		writeJSON(w, st)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
