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

package kafka

import (
	"sort"
	"sync"
)

type settleState int

const (
	inFlight settleState = iota
	acked
	nacked
)

// offsetTracker decides how far a partition may be committed when
// deliveries settle out of fetch order. A partition is committed only up to
// the last offset before the first one still in flight or nacked. A nacked
// offset holds its partition for the life of the reader, so it is fetched
// again after a restart or rebalance, together with everything after it.
type offsetTracker struct {
	mu    sync.Mutex
	parts map[int]*partitionOffsets
}

type partitionOffsets struct {
	// pending holds fetched offsets not yet committed, ascending.
	pending []int64
	state   map[int64]settleState
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{parts: make(map[int]*partitionOffsets)}
}

func (t *offsetTracker) track(partition int, offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.parts[partition]
	if p == nil {
		p = &partitionOffsets{state: make(map[int64]settleState)}
		t.parts[partition] = p
	}
	if _, ok := p.state[offset]; ok {
		return
	}
	p.state[offset] = inFlight
	i := sort.Search(len(p.pending), func(i int) bool { return p.pending[i] >= offset })
	p.pending = append(p.pending, 0)
	copy(p.pending[i+1:], p.pending[i:])
	p.pending[i] = offset
}

// ack marks offset settled and returns the highest offset that can now be
// committed, if the committable prefix grew.
func (t *offsetTracker) ack(partition int, offset int64) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.parts[partition]
	if p == nil {
		return 0, false
	}
	if _, ok := p.state[offset]; !ok {
		return 0, false
	}
	p.state[offset] = acked

	var (
		last  int64
		moved bool
	)
	for len(p.pending) > 0 && p.state[p.pending[0]] == acked {
		last = p.pending[0]
		delete(p.state, last)
		p.pending = p.pending[1:]
		moved = true
	}
	return last, moved
}

func (t *offsetTracker) nack(partition int, offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p := t.parts[partition]; p != nil {
		if _, ok := p.state[offset]; ok {
			p.state[offset] = nacked
		}
	}
}
