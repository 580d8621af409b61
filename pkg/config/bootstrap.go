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

package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/joeshaw/envdecode"
)

const DefaultPath = "/etc/process-bridge/config.yaml"

// Env is the process bootstrap read from the environment. Everything else
// lives in the settings file it points to.
type Env struct {
	// ConfigPath to a .yaml or .properties settings file. ENV: BRIDGE_CONFIG
	ConfigPath string `env:"BRIDGE_CONFIG,default=/etc/process-bridge/config.yaml"`
	// LogLevel is one of debug, info, warn, error. ENV: BRIDGE_LOG_LEVEL
	LogLevel string `env:"BRIDGE_LOG_LEVEL,default=info"`
	// LogFormat is json or text. ENV: BRIDGE_LOG_FORMAT
	LogFormat string `env:"BRIDGE_LOG_FORMAT,default=json"`
}

func LoadEnv() (Env, error) {
	var env Env
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return env, fmt.Errorf("decode environment: %w", err)
	}
	if env.ConfigPath == "" {
		env.ConfigPath = DefaultPath
	}
	if env.LogLevel == "" {
		env.LogLevel = "info"
	}
	if env.LogFormat == "" {
		env.LogFormat = "json"
	}
	return env, nil
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger; JSON unless format is "text".
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
