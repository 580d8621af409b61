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

package listener

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/internal/metrics"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/internal/session"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/core"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/engine"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/mapping"
)

// Property keys, camel-cased and relative to the endpoint's bpmn prefix.
const (
	KeyAction                    = "action"
	KeyDefinitionIdentifier      = "definitionIdentifier"
	KeyProcessIdentifier         = "processIdentifier"
	KeyCollaborationIdentifier   = "collaborationIdentifier"
	KeyProcessInstanceNamePrefix = "processInstanceNamePrefix"
	KeyReplyInstanceID           = "replyInstanceId"
	KeySignalIdentifier          = "signalIdentifier"
	KeySignalName                = "signalName"
	KeyDataEntryID               = "dataEntryId"

	dataEntryPrefix = "dataEntry."
	dataEntrySource = "idJms"
	dataEntryTarget = "idW4"
)

// Factory builds initialized pipelines from an endpoint's property bag.
type Factory struct {
	Engine   engine.Service
	Sessions *session.Cache
	Objects  mapping.ObjectMapper
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Build decodes props for kind and returns a ready pipeline.
func (f *Factory) Build(ctx context.Context, endpointID string, kind core.ActionKind, user session.User, definitionsID string, props map[string]string) (*Pipeline, error) {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("endpoint", endpointID)
	logger.Debug("listener properties", "properties", props)

	var (
		action  Action
		entries DataEntries
		err     error
	)
	switch kind {
	case core.ActionInstantiate:
		var opts InstantiateOptions
		entries, err = decodeProperties(props, logger, func(k, v string) (bool, error) {
			switch k {
			case KeyProcessIdentifier:
				opts.ProcessID = v
			case KeyCollaborationIdentifier:
				opts.CollaborationID = v
			case KeyProcessInstanceNamePrefix:
				opts.NamePrefix = v
			case KeyReplyInstanceID:
				b, err := strconv.ParseBool(v)
				if err != nil {
					return true, fmt.Errorf("%w: %s=%q is not a boolean", core.ErrInvalidConfig, k, v)
				}
				opts.ReplyInstanceID = b
			default:
				return false, nil
			}
			return true, nil
		})
		action = NewInstantiate(opts)

	case core.ActionSignal:
		var opts SignalOptions
		entries, err = decodeProperties(props, logger, func(k, v string) (bool, error) {
			switch k {
			case KeySignalIdentifier:
				opts.SignalID = v
			case KeySignalName:
				opts.Name = v
			default:
				return false, nil
			}
			return true, nil
		})
		action = NewSignal(opts)

	default:
		return nil, fmt.Errorf("%w: unsupported action %s", core.ErrInvalidConfig, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", endpointID, err)
	}

	pl, err := NewPipeline(Config{
		EndpointID:    endpointID,
		Engine:        f.Engine,
		Sessions:      f.Sessions,
		User:          user,
		DefinitionsID: definitionsID,
		DataEntries:   entries,
		Objects:       f.Objects,
		Metrics:       f.Metrics,
		Logger:        f.Logger,
	}, action)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", endpointID, err)
	}
	return pl, nil
}

// decodeProperties handles the keys shared by every action and hands the
// rest to set. Keys set does not claim are logged and ignored.
func decodeProperties(props map[string]string, logger *slog.Logger, set func(k, v string) (bool, error)) (DataEntries, error) {
	var entries DataEntries
	sources := make(map[string]string)
	targets := make(map[string]string)

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := props[k]
		switch {
		case k == KeyAction || k == KeyDefinitionIdentifier:
		case k == KeyDataEntryID:
			entries.ID = v
		case strings.HasPrefix(k, dataEntryPrefix):
			ref, field, ok := strings.Cut(strings.TrimPrefix(k, dataEntryPrefix), ".")
			switch {
			case ok && field == dataEntrySource:
				sources[ref] = v
			case ok && field == dataEntryTarget:
				targets[ref] = v
			default:
				logger.Warn("ignoring unknown data entry property", "property", k)
			}
		default:
			handled, err := set(k, v)
			if err != nil {
				return entries, err
			}
			if !handled {
				logger.Warn("ignoring unknown listener property", "property", k)
			}
		}
	}

	for ref, from := range sources {
		to, ok := targets[ref]
		if !ok {
			return entries, fmt.Errorf("%w: data entry %s has no %s", core.ErrInvalidConfig, ref, dataEntryTarget)
		}
		if entries.Mapping == nil {
			entries.Mapping = make(map[string]string)
		}
		entries.Mapping[from] = to
	}
	for ref := range targets {
		if _, ok := sources[ref]; !ok {
			return entries, fmt.Errorf("%w: data entry %s has no %s", core.ErrInvalidConfig, ref, dataEntrySource)
		}
	}
	return entries, nil
}
