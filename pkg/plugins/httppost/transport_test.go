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

package httppost

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/core"
)

func newTestTransport(cfg Config) *Transport {
	return New("http", cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// serve starts a consumer on path and settles every delivery with settle.
func serve(t *testing.T, tr *Transport, path string, settle func(core.Delivery)) {
	t.Helper()
	c, err := tr.NewConsumer(core.ConsumerSpec{EndpointID: "e1", Destination: path})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	out := make(chan core.Delivery)
	go c.Start(ctx, out)
	go func() {
		for {
			select {
			case d := <-out:
				settle(d)
			case <-ctx.Done():
				return
			}
		}
	}()

	require.Eventually(t, func() bool {
		tr.mu.RLock()
		defer tr.mu.RUnlock()
		return tr.paths[path] != nil
	}, time.Second, 10*time.Millisecond)
}

func TestReplyIsResponseBody(t *testing.T) {
	tr := newTestTransport(Config{})
	srv := httptest.NewServer(tr.Handler())
	defer srv.Close()

	seen := make(chan *core.Message, 1)
	serve(t, tr, "/orders", func(d core.Delivery) {
		seen <- d.Message
		d.Reply(context.Background(), "instance-1")
		d.Ack()
	})

	resp, err := http.Post(srv.URL+"/orders?SignalName=Resume", "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "instance-1", string(body))
	got := <-seen
	assert.Equal(t, "hello", got.Payload)
	v, _ := got.Property("SignalName")
	assert.Equal(t, "Resume", v)
}

func TestAcceptedAndRejected(t *testing.T) {
	tr := newTestTransport(Config{})
	srv := httptest.NewServer(tr.Handler())
	defer srv.Close()

	serve(t, tr, "/ok", func(d core.Delivery) { d.Ack() })
	serve(t, tr, "/bad", func(d core.Delivery) { d.Nack() })

	resp, err := http.Post(srv.URL+"/ok", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/bad", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestUnsettledDeliveryTimesOut(t *testing.T) {
	tr := newTestTransport(Config{ResponseTimeout: 50 * time.Millisecond})
	srv := httptest.NewServer(tr.Handler())
	defer srv.Close()

	serve(t, tr, "/slow", func(core.Delivery) {})

	resp, err := http.Post(srv.URL+"/slow", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
}

func TestMethodAndPath(t *testing.T) {
	tr := newTestTransport(Config{})
	srv := httptest.NewServer(tr.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/orders")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/nowhere", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOversizedBodyIsRefused(t *testing.T) {
	tr := newTestTransport(Config{MaxBody: 5})
	srv := httptest.NewServer(tr.Handler())
	defer srv.Close()

	delivered := make(chan struct{}, 1)
	serve(t, tr, "/orders", func(d core.Delivery) {
		delivered <- struct{}{}
		d.Ack()
	})

	resp, err := http.Post(srv.URL+"/orders", "text/plain", strings.NewReader("hello world, much longer"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Empty(t, delivered)

	resp, err = http.Post(srv.URL+"/orders", "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Len(t, delivered, 1)
}
