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
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/core"
)

// Settings is a flat, '.'-delimited key/value view of the configuration.
type Settings map[string]string

// FromMap copies m into a Settings, trimming surrounding whitespace from
// values.
func FromMap(m map[string]string) Settings {
	s := make(Settings, len(m))
	for k, v := range m {
		s[k] = strings.TrimSpace(v)
	}
	return s
}

// Get returns the value for key; blank values count as absent.
func (s Settings) Get(key string) (string, bool) {
	v, ok := s[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (s Settings) GetDefault(key, def string) string {
	if v, ok := s.Get(key); ok {
		return v
	}
	return def
}

func (s Settings) Required(key string) (string, error) {
	v, ok := s.Get(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", core.ErrMissingConfig, key)
	}
	return v, nil
}

func (s Settings) Bool(key string, def bool) (bool, error) {
	v, ok := s.Get(key)
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%w: %s=%q is not a boolean", core.ErrInvalidConfig, key, v)
	}
	return b, nil
}

func (s Settings) Int(key string, def int) (int, error) {
	v, ok := s.Get(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%w: %s=%q is not an integer", core.ErrInvalidConfig, key, v)
	}
	return n, nil
}

func (s Settings) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := s.Get(key)
	if !ok {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%w: %s=%q is not a duration", core.ErrInvalidConfig, key, v)
	}
	return d, nil
}

// List splits a comma separated value, dropping blank items.
func (s Settings) List(key string) []string {
	v, ok := s.Get(key)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Subset returns the keys under prefix. With strip set, "prefix." is removed
// from the returned keys.
func (s Settings) Subset(prefix string, strip bool) Settings {
	p := prefix + "."
	out := make(Settings)
	for k, v := range s {
		if !strings.HasPrefix(k, p) {
			continue
		}
		if strip {
			k = strings.TrimPrefix(k, p)
		}
		out[k] = v
	}
	return out
}

// SubsetToCamelCase returns the keys under prefix, stripped of "prefix." and
// converted from snake or dash case to camel case
// ("data_entry.ref1.id_jms" becomes "dataEntry.ref1.idJms").
func (s Settings) SubsetToCamelCase(prefix string) map[string]string {
	out := make(map[string]string)
	for k, v := range s.Subset(prefix, true) {
		out[CamelCase(k)] = v
	}
	return out
}

// Keys returns the sorted keys.
func (s Settings) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CamelCase lower-cases key and upper-cases the first letter following each
// '_' or '-', dropping the separators.
func CamelCase(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	upper := false
	for _, r := range strings.ToLower(key) {
		if r == '_' || r == '-' {
			upper = b.Len() > 0
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
