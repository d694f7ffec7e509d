// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hashicorp/capsession/oidc"
)

// Completer completes a login from the location the provider redirected the
// user agent to. Both *session.Manager and *oidc.LoginCompleter satisfy it.
type Completer interface {
	CompleteLogin(ctx context.Context, location string) (*oidc.LoginResult, error)
}

// Redirect creates a callback handler for the provider's authorization
// response, which is read from the request's query or form body.
//
// The SuccessResponseFunc is used to create a response when the login
// completed. The ErrorResponseFunc is used when it failed.
func Redirect(ctx context.Context, c Completer, sFn SuccessResponseFunc, eFn ErrorResponseFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		const op = "callback.Redirect"

		// FormValue parses the body and the query, prioritizing the body
		reqState := req.FormValue("state")

		if c == nil {
			eFn(reqState, nil, fmt.Errorf("%s: completer is nil: %w", op, oidc.ErrNilParameter), w, req)
			return
		}

		location := (&url.URL{Path: req.URL.Path, RawQuery: req.Form.Encode()}).String()
		result, err := c.CompleteLogin(ctx, location)
		if err != nil {
			var respErr *AuthenErrorResponse
			var pErr *oidc.ProviderError
			if errors.As(err, &pErr) {
				respErr = &AuthenErrorResponse{
					Error:       pErr.Code,
					Description: pErr.Description,
					Uri:         pErr.Uri,
				}
			}
			eFn(reqState, respErr, fmt.Errorf("%s: %w", op, err), w, req)
			return
		}
		if result == nil {
			eFn(reqState, nil, fmt.Errorf("%s: not an authorization response: %w", op, oidc.ErrInvalidParameter), w, req)
			return
		}
		sFn(reqState, result, w, req)
	}
}
