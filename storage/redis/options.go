// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package redis

import "github.com/hashicorp/go-hclog"

// Option defines a common functional options type
type Option func(interface{})

// applyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func applyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(opts)
	}
}

// options is the set of available options
type options struct {
	withPrefix string
	withLogger hclog.Logger
}

func optsDefaults() options {
	return options{
		withPrefix: DefaultPrefix,
		withLogger: hclog.NewNullLogger(),
	}
}

func getOpts(opt ...Option) options {
	opts := optsDefaults()
	applyOpts(&opts, opt...)
	return opts
}

// WithPrefix provides an optional key prefix. Handles sharing a prefix share
// their values and their change notifications.
func WithPrefix(p string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withPrefix = p
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}
