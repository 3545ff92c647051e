// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Flow label values.
const (
	FlowRedirect = "redirect"
	FlowBearer   = "bearer"
)

// Document label values.
const (
	DocumentMetadata = "metadata"
	DocumentKeySet   = "jwks"
)

// Metrics are the prometheus collectors for authentication attempts and
// provider fetches.  A nil *Metrics records nothing.
type Metrics struct {
	authentications  *prometheus.CounterVec
	discoveryFetches *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.  A nil reg
// skips registration.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	const op = "NewMetrics"
	m := &Metrics{
		authentications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cap_openid",
			Name:      "authentications_total",
			Help:      "Authentication attempts by flow and outcome.",
		}, []string{"flow", "outcome"}),
		discoveryFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cap_openid",
			Name:      "discovery_fetches_total",
			Help:      "Provider metadata and key set fetches by document and result.",
		}, []string{"document", "result"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.authentications, m.discoveryFetches} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return m, nil
}

func (m *Metrics) observeAuthentication(flow string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = ErrorKind(err)
	}
	m.authentications.WithLabelValues(flow, outcome).Inc()
}

func (m *Metrics) observeFetch(document string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.discoveryFetches.WithLabelValues(document, result).Inc()
}
