// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"strings"

	"github.com/hashicorp/cap-openid/oidc/internal/strutils"
	"github.com/hashicorp/go-hclog"
)

// RoleContext is what a RoleStrategy may inspect.
type RoleContext struct {
	// Zone is the provider key of the authenticating provider.
	Zone string

	// Username is the identity's username.
	Username string

	// Token is the identity token; its trust has already been asserted.
	Token *IdentityToken
}

// RoleStrategy derives roles for an identity.
type RoleStrategy interface {
	// Supports reports whether the strategy applies to rc.
	Supports(ctx context.Context, rc RoleContext) bool

	// Roles returns the roles the strategy grants.
	Roles(ctx context.Context, rc RoleContext) []string
}

// StaticRoleStrategy grants Granted to every identity of Zone, or of every
// zone when Zone is empty.
type StaticRoleStrategy struct {
	Zone    string
	Granted []string
}

var _ RoleStrategy = StaticRoleStrategy{}

// Supports implements RoleStrategy.
func (s StaticRoleStrategy) Supports(_ context.Context, rc RoleContext) bool {
	return s.Zone == "" || s.Zone == rc.Zone
}

// Roles implements RoleStrategy.
func (s StaticRoleStrategy) Roles(_ context.Context, _ RoleContext) []string {
	return append([]string(nil), s.Granted...)
}

// ClaimRoleStrategy derives roles from a string or string list claim, such as
// "groups".  With a Mapping only mapped values grant a role; otherwise each
// value is granted with Prefix prepended.
type ClaimRoleStrategy struct {
	Claim   string
	Mapping map[string]string
	Prefix  string
}

var _ RoleStrategy = ClaimRoleStrategy{}

// Supports implements RoleStrategy.
func (s ClaimRoleStrategy) Supports(_ context.Context, rc RoleContext) bool {
	if rc.Token == nil {
		return false
	}
	_, ok := rc.Token.Claim(s.Claim)
	return ok
}

// Roles implements RoleStrategy.
func (s ClaimRoleStrategy) Roles(_ context.Context, rc RoleContext) []string {
	if rc.Token == nil {
		return nil
	}
	v, _ := rc.Token.Claim(s.Claim)
	var values []string
	switch c := v.(type) {
	case string:
		values = strings.Fields(c)
	case []interface{}:
		for _, item := range c {
			if str, ok := item.(string); ok {
				values = append(values, str)
			}
		}
	}
	roles := make([]string, 0, len(values))
	for _, value := range values {
		if s.Mapping != nil {
			if role, ok := s.Mapping[value]; ok {
				roles = append(roles, role)
			}
			continue
		}
		roles = append(roles, s.Prefix+value)
	}
	return roles
}

// RoleChain asks every applicable strategy for roles.  Strategies don't
// short-circuit each other: the result is the union.
type RoleChain struct {
	strategies []RoleStrategy
	logger     hclog.Logger
}

// NewRoleChain creates a chain of strategies.  Nil strategies are skipped.
//
// Supported options: WithLogger
func NewRoleChain(strategies []RoleStrategy, opt ...Option) *RoleChain {
	opts := getRoleChainOpts(opt...)
	chain := &RoleChain{logger: opts.withLogger.Named("roles")}
	for _, s := range strategies {
		if s != nil {
			chain.strategies = append(chain.strategies, s)
		}
	}
	return chain
}

// Roles returns defaults unioned with the roles of every strategy that
// supports rc, without duplicates, in first-seen order.  A nil chain returns
// just the defaults.
func (c *RoleChain) Roles(ctx context.Context, rc RoleContext, defaults []string) []string {
	roles := append([]string(nil), defaults...)
	if c != nil {
		for _, s := range c.strategies {
			if !s.Supports(ctx, rc) {
				continue
			}
			granted := s.Roles(ctx, rc)
			c.logger.Trace("strategy granted roles", "strategy", strategyName(s), "username", rc.Username, "roles", granted)
			roles = append(roles, granted...)
		}
	}
	return strutils.RemoveDuplicatesStable(roles, false)
}

func strategyName(s RoleStrategy) string {
	switch s.(type) {
	case StaticRoleStrategy, *StaticRoleStrategy:
		return "static"
	case ClaimRoleStrategy, *ClaimRoleStrategy:
		return "claim"
	default:
		return "custom"
	}
}

// roleChainOptions is the set of available options for RoleChain
type roleChainOptions struct {
	withLogger hclog.Logger
}

func roleChainDefaults() roleChainOptions {
	return roleChainOptions{withLogger: hclog.NewNullLogger()}
}

func getRoleChainOpts(opt ...Option) roleChainOptions {
	opts := roleChainDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
