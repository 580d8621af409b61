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
	"os"
	"path/filepath"
	"strings"

	"github.com/magiconair/properties"
	"gopkg.in/yaml.v3"
)

// Load reads a settings file. ".properties" files are read as Java
// properties; anything else is parsed as YAML and flattened.
func Load(path string) (Settings, error) {
	if strings.EqualFold(filepath.Ext(path), ".properties") {
		return loadProperties(path)
	}
	return loadYAML(path)
}

func loadProperties(path string) (Settings, error) {
	p, err := properties.LoadFile(path, properties.UTF8)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return FromMap(p.Map()), nil
}

func loadYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseYAML(data)
}

// ParseYAML flattens a YAML document: nested keys are joined with '.',
// sequences of scalars become comma separated values.
func ParseYAML(data []byte) (Settings, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	flat := make(map[string]string)
	if err := flatten("", doc, flat); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return FromMap(flat), nil
}

func flatten(prefix string, v any, out map[string]string) error {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			if err := flatten(join(prefix, k), child, out); err != nil {
				return err
			}
		}
	case []any:
		items := make([]string, 0, len(val))
		for _, item := range val {
			switch item.(type) {
			case map[string]any, []any:
				return fmt.Errorf("key %s: nested structures inside lists are not supported", prefix)
			}
			items = append(items, fmt.Sprint(item))
		}
		out[prefix] = strings.Join(items, ",")
	case nil:
		out[prefix] = ""
	default:
		out[prefix] = fmt.Sprint(val)
	}
	return nil
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
