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
	"time"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/core"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/engine"
)

type InstantiateOptions struct {
	ProcessID       string
	CollaborationID string
	NamePrefix      string
	// ReplyInstanceID answers the sender with the created instance id.
	ReplyInstanceID bool
}

// Instantiate starts a new process instance per message.
type Instantiate struct {
	opts          InstantiateOptions
	pl            *Pipeline
	process       engine.ProcessIdentifier
	collaboration *engine.CollaborationIdentifier
}

func NewInstantiate(opts InstantiateOptions) *Instantiate {
	return &Instantiate{opts: opts}
}

func (a *Instantiate) Kind() core.ActionKind { return core.ActionInstantiate }

func (a *Instantiate) bind(pl *Pipeline) error {
	if a.opts.ProcessID == "" {
		return fmt.Errorf("%w: process identifier must be set", core.ErrInvalidConfig)
	}
	a.pl = pl
	a.process = engine.ProcessIdentifier{ID: a.opts.ProcessID, Definitions: pl.definitions}
	if a.opts.CollaborationID != "" {
		a.collaboration = &engine.CollaborationIdentifier{ID: a.opts.CollaborationID, Definitions: pl.definitions}
	}
	return nil
}

func (a *Instantiate) Apply(ctx context.Context, p engine.Principal, msg *core.Message, data map[string]any) (string, error) {
	a.pl.logger.Info("instantiate process", "process", a.process.ID, "data_entries", data)

	req := engine.InstantiateRequest{
		Collaboration:      a.collaboration,
		Process:            a.process,
		NamePrefix:         a.opts.NamePrefix,
		AutoStart:          true,
		DataEntries:        data,
		ReturnOnCompletion: true,
	}

	start := time.Now()
	id, err := a.pl.cfg.Engine.Processes().InstantiateProcess(ctx, p, req)
	if err != nil {
		a.pl.logger.Error("process instantiation failed", "process", a.process.ID, "error", err)
		return "", actionError("instantiate process "+a.process.ID, err)
	}
	a.pl.logger.Debug("process instantiated", "instance", id.ID, "duration", time.Since(start))

	if a.opts.ReplyInstanceID {
		return id.ID, nil
	}
	return "", nil
}
