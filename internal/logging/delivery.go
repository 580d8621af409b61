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

package logging

import (
	"log/slog"
	"time"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/core"
)

// Delivery outcomes.
const (
	OutcomeAcked    = "acked"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

type DeliveryLogger struct {
	logger *slog.Logger
}

func NewDeliveryLogger(logger *slog.Logger) *DeliveryLogger {
	return &DeliveryLogger{logger: logger}
}

// Log records one settled delivery at debug level.
func (d *DeliveryLogger) Log(msg *core.Message, outcome string, replied bool, elapsed time.Duration) {
	if d == nil {
		return
	}
	d.logger.Debug("delivery",
		"message_id", msg.ID,
		"endpoint", msg.EndpointID,
		"destination", msg.Destination,
		"outcome", outcome,
		"replied", replied,
		"payload_type", payloadType(msg.Payload),
		"elapsed", elapsed,
		"received_at", msg.ReceivedAt,
	)
}

func payloadType(p any) string {
	switch p.(type) {
	case nil:
		return "none"
	case string:
		return "text"
	case map[string]any:
		return "map"
	case []byte:
		return "bytes"
	case core.StreamPayload:
		return "stream"
	default:
		return "object"
	}
}
