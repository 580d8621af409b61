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

package engine

import (
	"context"
	"fmt"
)

// Principal is an authenticated session on the engine.
type Principal struct {
	Name  string `json:"name"`
	Token string `json:"token"`
}

func (p Principal) IsZero() bool { return p == Principal{} }

// PrincipalState is the engine-side validity of a Principal.
type PrincipalState int

const (
	PrincipalUnknown PrincipalState = iota
	PrincipalValid
	PrincipalExpired
	PrincipalLoggedOut
)

func (s PrincipalState) String() string {
	switch s {
	case PrincipalValid:
		return "VALID"
	case PrincipalExpired:
		return "EXPIRED"
	case PrincipalLoggedOut:
		return "LOGGED_OUT"
	default:
		return "UNKNOWN"
	}
}

func ParsePrincipalState(s string) PrincipalState {
	switch s {
	case "VALID":
		return PrincipalValid
	case "EXPIRED":
		return PrincipalExpired
	case "LOGGED_OUT":
		return PrincipalLoggedOut
	default:
		return PrincipalUnknown
	}
}

// DefinitionsIdentifier names a deployed definitions package. An empty
// Version means the latest one.
type DefinitionsIdentifier struct {
	ID      string `json:"id"`
	Version string `json:"version,omitempty"`
}

func (d DefinitionsIdentifier) String() string {
	if d.Version == "" {
		return d.ID
	}
	return fmt.Sprintf("%s@%s", d.ID, d.Version)
}

type ProcessIdentifier struct {
	ID          string                `json:"id"`
	Definitions DefinitionsIdentifier `json:"definitions"`
}

type CollaborationIdentifier struct {
	ID          string                `json:"id"`
	Definitions DefinitionsIdentifier `json:"definitions"`
}

type SignalIdentifier struct {
	ID          string                `json:"id"`
	Definitions DefinitionsIdentifier `json:"definitions"`
}

type ProcessInstanceIdentifier struct {
	ID string `json:"id"`
}

// DefinitionsInfo describes one published definitions version.
type DefinitionsInfo struct {
	Identifier DefinitionsIdentifier `json:"identifier"`
	Name       string                `json:"name,omitempty"`
}

// DefinitionsFilter selects definitions whose id matches IDLike
// (engine-side wildcard match on the base name).
type DefinitionsFilter struct {
	IDLike string `json:"id_like"`
}

// InstantiateRequest carries the arguments of a process instantiation.
type InstantiateRequest struct {
	Collaboration      *CollaborationIdentifier `json:"collaboration,omitempty"`
	Process            ProcessIdentifier        `json:"process"`
	NamePrefix         string                   `json:"name_prefix,omitempty"`
	AutoStart          bool                     `json:"auto_start"`
	DataEntries        map[string]any           `json:"data_entries"`
	ReturnOnCompletion bool                     `json:"return_on_completion"`
}

type AuthenticationService interface {
	Login(ctx context.Context, login, password string) (Principal, error)
	PrincipalState(ctx context.Context, p Principal) (PrincipalState, error)
	Logout(ctx context.Context, p Principal) error
}

type ProcessService interface {
	InstantiateProcess(ctx context.Context, p Principal, req InstantiateRequest) (ProcessInstanceIdentifier, error)
}

type DefinitionsService interface {
	SearchDefinitions(ctx context.Context, p Principal, filter DefinitionsFilter) ([]DefinitionsInfo, error)
}

type EventService interface {
	TriggerSignal(ctx context.Context, p Principal, signal SignalIdentifier, name string, payload any) error
}

// Service is the whole engine surface used by the bridge.
type Service interface {
	Authentication() AuthenticationService
	Processes() ProcessService
	Definitions() DefinitionsService
	Events() EventService
	// WaitForStartup blocks until the engine accepts requests or ctx ends.
	WaitForStartup(ctx context.Context) error
}
