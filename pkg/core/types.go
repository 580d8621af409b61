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

package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ActionKind selects what an endpoint does with the engine for each message.
type ActionKind int

const (
	ActionInstantiate ActionKind = iota
	ActionSignal
)

func (k ActionKind) String() string {
	switch k {
	case ActionInstantiate:
		return "instantiate"
	case ActionSignal:
		return "signal"
	default:
		return "unknown"
	}
}

// ParseActionKind returns ActionInstantiate for blank input and matches the
// known names case-insensitively.
func ParseActionKind(s string) (ActionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "instantiate":
		return ActionInstantiate, nil
	case "signal":
		return ActionSignal, nil
	default:
		return ActionInstantiate, fmt.Errorf("%w: unknown action %q (only 'instantiate' or 'signal' are allowed)", ErrInvalidConfig, s)
	}
}

// MappingMode controls how raw payloads are decoded before the pipeline.
type MappingMode int

const (
	MappingNone MappingMode = iota
	MappingJSON
)

func (m MappingMode) String() string {
	if m == MappingJSON {
		return "json"
	}
	return "none"
}

func ParseMappingMode(s string) (MappingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return MappingNone, nil
	case "json":
		return MappingJSON, nil
	default:
		return MappingNone, fmt.Errorf("%w: unknown mapping %q (only 'none' or 'json' are allowed)", ErrInvalidConfig, s)
	}
}

// Credentials used by an endpoint to authenticate against the engine.
type Credentials struct {
	Login    string
	Password string
}

// EndpointDefinition is one endpoint as read from the settings.
type EndpointDefinition struct {
	ID                    string
	Transport             string
	Destination           string
	Selector              string
	Credentials           Credentials
	Action                ActionKind
	DefinitionsIdentifier string
	Mapping               MappingMode
	Concurrency           int
	// Properties holds the action-specific settings, prefix stripped and
	// camel-cased (processIdentifier, signalName, dataEntry.<ref>.idJms, ...).
	Properties map[string]string
}

// Name identifies a consumer by what it listens to.
func (d EndpointDefinition) Name() string {
	if d.Selector == "" {
		return fmt.Sprintf("%s[destination=%s]", d.ID, d.Destination)
	}
	return fmt.Sprintf("%s[destination=%s,selector=%s]", d.ID, d.Destination, d.Selector)
}

// StreamPayload marks payloads that arrive as an ordered sequence of values.
// The listener pipeline does not process them.
type StreamPayload []any

// Message is an inbound delivery after transport decoding.
type Message struct {
	ID          string
	EndpointID  string
	Destination string
	// Properties carries the transport headers / application properties.
	Properties map[string]any
	// Payload is a string, a map[string]any, a decoded object, raw []byte or
	// a StreamPayload.
	Payload     any
	ContentType string
	ReplyTo     string
	ReceivedAt  time.Time
}

// Property returns a message property as a string.
func (m *Message) Property(name string) (string, bool) {
	v, ok := m.Properties[name]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// Delivery wraps a Message with the transport's settlement callbacks.
// Reply is nil when the transport cannot answer the sender.
type Delivery struct {
	Message *Message
	Ack     func() error
	Nack    func() error
	Reply   func(ctx context.Context, body string) error
}
