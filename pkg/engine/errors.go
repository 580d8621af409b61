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
	"errors"
	"fmt"
)

var (
	// ErrRemote reports that the engine could not be reached or failed
	// while serving the call.
	ErrRemote = errors.New("engine communication failure")
	// ErrNotAuthenticated is returned for calls made with an unknown,
	// expired or logged out principal.
	ErrNotAuthenticated = errors.New("principal is not authenticated")
	// ErrSignalNotFound is returned when a definitions version does not
	// declare the triggered signal.
	ErrSignalNotFound = errors.New("signal not found")
	ErrNotFound       = errors.New("not found")
)

// Error is a business rejection returned by the engine.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is maps well-known engine codes onto the package sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrSignalNotFound:
		return e.Code == CodeSignalNotFound
	case ErrNotAuthenticated:
		return e.Code == CodeNotAuthenticated
	case ErrNotFound:
		return e.Code == CodeNotFound
	}
	return false
}

const (
	CodeSignalNotFound   = "SIGNAL_NOT_FOUND"
	CodeNotAuthenticated = "NOT_AUTHENTICATED"
	CodeNotFound         = "NOT_FOUND"
)

// IsRemote reports whether err is a communication failure rather than a
// business rejection.
func IsRemote(err error) bool {
	return errors.Is(err, ErrRemote)
}
