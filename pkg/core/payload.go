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
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"
)

// BytePayload decides how a transport body is exposed to pipelines: text
// content types and valid UTF-8 bodies become strings, anything else stays
// raw bytes.
func BytePayload(body []byte, contentType string) any {
	if contentType != "" {
		mt, _, err := mime.ParseMediaType(contentType)
		if err == nil {
			switch {
			case strings.HasPrefix(mt, "text/"), mt == "application/json", strings.HasSuffix(mt, "+json"),
				mt == "application/xml", strings.HasSuffix(mt, "+xml"):
				return string(body)
			case mt == "application/octet-stream":
				return body
			}
		}
	}
	if utf8.Valid(body) {
		return string(body)
	}
	return body
}

// StringMap normalizes decoded map payloads whose keys are not strings.
func StringMap(m map[any]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if s, ok := k.(string); ok {
			out[s] = v
			continue
		}
		out[fmt.Sprint(k)] = v
	}
	return out
}
