// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
session is a package that keeps one execution context's view of the user's
OIDC session: whether there's a valid access token, whether the initial login
sequence has finished, and whether protected routes may be activated.

A Manager wires the oidc package's components to a storage.Storage handle. A
Sequencer runs the initial login sequence once per execution context, and a
Publisher emits state changes to subscribers, including those caused by other
execution contexts sharing the same storage.
*/
package session
