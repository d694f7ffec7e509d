// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"time"

	"github.com/hashicorp/capsession/oidc"
	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
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

type options struct {
	withLogger    hclog.Logger
	withNow       func() time.Time
	withNavigator oidc.Navigator
}

func getDefaults() options {
	return options{
		withLogger: hclog.NewNullLogger(),
		withNow:    time.Now,
	}
}

func getOpts(opt ...Option) options {
	opts := getDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger for: Manager, Publisher, Sequencer
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithNow provides an optional function to provide the current time for:
// Manager, Publisher
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && now != nil {
			o.withNow = now
		}
	}
}

// WithNavigator provides the Navigator used by Manager.Login and
// Manager.Logout to send the user agent to the provider.
func WithNavigator(n oidc.Navigator) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withNavigator = n
		}
	}
}
