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

import "errors"

var (
	// Configuration
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// Authentication against the engine
	ErrInvalidUser = errors.New("user login cannot be empty")
	ErrLogin       = errors.New("cannot login against engine")
	ErrLogout      = errors.New("cannot sign out of the engine")

	// Message processing
	ErrUnsupportedPayload = errors.New("message payload type cannot be processed by this listener")
	ErrPayloadShape       = errors.New("message payload does not match the data entries configuration")
	ErrNoSignalName       = errors.New("cannot trigger signal since no signal name has been received")
	ErrAction             = errors.New("engine action failed")

	// Transports
	ErrTransportNotFound    = errors.New("transport not found")
	ErrUnknownTransport     = errors.New("unknown transport type")
	ErrSelectorUnsupported  = errors.New("message selectors are not supported by this transport")
	ErrTransportUnavailable = errors.New("transport unavailable")
)
