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

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/core"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/engine"
)

// User is a credential identity. Two users are the same identity when their
// logins match; password and the extra bags do not take part.
type User struct {
	Login      string
	Password   string
	Properties map[string]any
	Attributes map[string]string
}

func (u User) Key() string { return u.Login }

func (u User) String() string { return u.Login }

// Cache keeps one engine principal per identity and hands it out to
// concurrent deliveries, validating it before every reuse.
type Cache struct {
	mu         sync.Mutex
	principals map[string]engine.Principal
	auth       engine.AuthenticationService
	logger     *slog.Logger
}

func NewCache(auth engine.AuthenticationService, logger *slog.Logger) *Cache {
	return &Cache{
		principals: make(map[string]engine.Principal),
		auth:       auth,
		logger:     logger.With("component", "session-cache"),
	}
}

// Login returns a valid principal for u. A cached principal is reused only
// when the engine still reports it valid; otherwise it is replaced by a
// fresh login. An engine that cannot answer the validity check fails the
// login and leaves the cached principal in place.
func (c *Cache) Login(ctx context.Context, u User) (engine.Principal, error) {
	if u.Login == "" {
		return engine.Principal{}, core.ErrInvalidUser
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.principals[u.Key()]; ok {
		state, err := c.auth.PrincipalState(ctx, cached)
		if err == nil && state == engine.PrincipalValid {
			return cached, nil
		}
		if engine.IsRemote(err) {
			return engine.Principal{}, fmt.Errorf("%w with user %s: state check: %w", core.ErrLogin, u.Login, err)
		}
		if err != nil {
			c.logger.Debug("principal state check rejected, logging in again", "login", u.Login, "error", err)
		} else {
			c.logger.Debug("cached principal no longer valid", "login", u.Login, "state", state.String())
		}
		delete(c.principals, u.Key())
	}

	p, err := c.auth.Login(ctx, u.Login, u.Password)
	if err != nil {
		return engine.Principal{}, fmt.Errorf("%w with user %s: %w", core.ErrLogin, u.Login, err)
	}
	c.principals[u.Key()] = p
	c.logger.Debug("logged in", "login", u.Login)
	return p, nil
}

// Logout evicts u and signs its principal out of the engine. Unknown users
// are ignored.
func (c *Cache) Logout(ctx context.Context, u User) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.principals[u.Key()]
	if !ok {
		return nil
	}
	delete(c.principals, u.Key())
	return c.logout(ctx, u.Login, p)
}

// LogoutPrincipal evicts whichever identity currently holds p.
func (c *Cache) LogoutPrincipal(ctx context.Context, p engine.Principal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, cached := range c.principals {
		if cached == p {
			delete(c.principals, key)
			return c.logout(ctx, key, p)
		}
	}
	return nil
}

// Shutdown logs every cached principal out.
func (c *Cache) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for key, p := range c.principals {
		delete(c.principals, key)
		if err := c.logout(ctx, key, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.principals)
}

// Users returns the cached logins, sorted.
func (c *Cache) Users() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	users := make([]string, 0, len(c.principals))
	for key := range c.principals {
		users = append(users, key)
	}
	sort.Strings(users)
	return users
}

// logout must be called with mu held. Business rejections (typically an
// already expired principal) are not failures.
func (c *Cache) logout(ctx context.Context, login string, p engine.Principal) error {
	err := c.auth.Logout(ctx, p)
	switch {
	case err == nil:
		c.logger.Debug("logged out", "login", login)
		return nil
	case engine.IsRemote(err):
		return fmt.Errorf("%w with user %s: %w", core.ErrLogout, login, err)
	default:
		c.logger.Debug("logout rejected by engine", "login", login, "error", err)
		return nil
	}
}
