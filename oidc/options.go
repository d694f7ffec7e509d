// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// componentOptions is the set of options shared by the Discoverer,
// TokenStore, SilentRefresher and Login.
type componentOptions struct {
	withLogger    hclog.Logger
	withNow       func() time.Time
	withNavigator Navigator
}

func componentDefaults() componentOptions {
	return componentOptions{
		withLogger: hclog.NewNullLogger(),
		withNow:    time.Now,
	}
}

func getComponentOpts(opt ...Option) componentOptions {
	opts := componentDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger for: Discoverer, TokenStore,
// SilentRefresher, Login
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*componentOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithNow provides an optional function to provide the current time for:
// Discoverer, TokenStore, Login
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*componentOptions); ok && now != nil {
			o.withNow = now
		}
	}
}

// WithNavigator provides the Navigator a Login uses to send the user agent to
// the provider.
func WithNavigator(n Navigator) Option {
	return func(o interface{}) {
		if o, ok := o.(*componentOptions); ok {
			o.withNavigator = n
		}
	}
}
