// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
callback is a package that provides an http.HandlerFunc completing an
interactive login when the provider redirects the user agent back to a server
the application runs, as CLIs do with a local listener.
*/
package callback
