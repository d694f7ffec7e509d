// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"net/http"

	"github.com/hashicorp/capsession/oidc"
)

// SuccessResponseFunc is used by Redirect to create a http response when the
// login completed.
//
// The state parameter is the state returned with the authorization response
// and r holds the acquired tokens and the target URL the login was started
// for. The function should use the http.ResponseWriter to send back whatever
// content it wishes to the user agent.
type SuccessResponseFunc func(state string, r *oidc.LoginResult, w http.ResponseWriter, req *http.Request)

// ErrorResponseFunc is used by Redirect to create a http response when the
// login failed.
//
// respErr is set when the provider returned an error response, e is the error
// raised while completing the login. Either may be nil.
type ErrorResponseFunc func(state string, respErr *AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request)

// AuthenErrorResponse represents Oauth2 error responses.  See:
// https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type AuthenErrorResponse struct {
	Error       string
	Description string
	Uri         string
}
