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

import "context"

// Transport is a connection to one broker. Consumers created from it share
// the connection.
type Transport interface {
	Name() string
	Type() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	NewConsumer(spec ConsumerSpec) (Consumer, error)
}

// ConsumerSpec binds a consumer to what it listens to.
type ConsumerSpec struct {
	EndpointID  string
	Destination string
	Selector    string
}

// Consumer pushes deliveries into ch until ctx is cancelled. Start then
// returns without releasing the broker link, so deliveries already handed
// out can still be acked, nacked or replied to. Close releases the link and
// must only be called once those deliveries are settled.
type Consumer interface {
	Spec() ConsumerSpec
	Start(ctx context.Context, ch chan<- Delivery) error
	Close(ctx context.Context) error
}

// Handler processes one message and returns an optional reply.
type Handler interface {
	Handle(ctx context.Context, msg *Message) (string, error)
}
