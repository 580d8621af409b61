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

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testSettings = `
module:
  endpoints: [orders, signals]
  principal:
    login: bridge
    password: secret
  engine:
    url: http://localhost:8080
transport:
  default:
    type: nats
    url: nats://localhost:4222
endpoint:
  orders:
    destination: orders.new
    bpmn:
      definition_identifier: Proc1
      process_identifier: P1
      data_entry_id: input
  signals:
    destination: orders.resume
    mapping: json
    bpmn:
      action: signal
      definition_identifier: Proc1
      signal_identifier: Sig1
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateListsConsumers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	if err := os.WriteFile(path, []byte(testSettings), 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	out, err := execute(t, "validate", "--config", path, "--log-level", "error")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	for _, want := range []string{
		"orders[destination=orders.new]",
		"signals[destination=orders.resume]",
		"signal",
		"json",
		"2 endpoint(s) configured",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestValidateMissingFile(t *testing.T) {
	_, err := execute(t, "validate", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected an error for a missing settings file")
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if strings.TrimSpace(out) != version {
		t.Fatalf("expected %q, got %q", version, out)
	}
}
