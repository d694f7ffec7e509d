// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

// Alg represents an asymmetric id_token signing algorithm, as defined by
// RFC 7518.
//
// See: https://tools.ietf.org/html/rfc7518#section-3.1
type Alg string

const (
	RS256 Alg = "RS256" // RSASSA-PKCS-v1.5 using SHA-256
	RS384 Alg = "RS384" // RSASSA-PKCS-v1.5 using SHA-384
	RS512 Alg = "RS512" // RSASSA-PKCS-v1.5 using SHA-512
	ES256 Alg = "ES256" // ECDSA using P-256 and SHA-256
	ES384 Alg = "ES384" // ECDSA using P-384 and SHA-384
	ES512 Alg = "ES512" // ECDSA using P-521 and SHA-512
	PS256 Alg = "PS256" // RSASSA-PSS using SHA256 and MGF1-SHA256
	PS384 Alg = "PS384" // RSASSA-PSS using SHA384 and MGF1-SHA384
	PS512 Alg = "PS512" // RSASSA-PSS using SHA512 and MGF1-SHA512
	EdDSA Alg = "EdDSA"
)

// DefaultAlg is the algorithm accepted when none are configured. Providers
// must support it for id_tokens.
const DefaultAlg = RS256

var supportedAlgorithms = map[Alg]bool{
	RS256: true,
	RS384: true,
	RS512: true,
	ES256: true,
	ES384: true,
	ES512: true,
	PS256: true,
	PS384: true,
	PS512: true,
	EdDSA: true,
}

// Supported reports whether id_tokens signed with a can be verified.
func (a Alg) Supported() bool {
	return supportedAlgorithms[a]
}

// algStrings converts algs for go-oidc's verifier, defaulting to DefaultAlg.
func algStrings(algs []Alg) []string {
	if len(algs) == 0 {
		return []string{string(DefaultAlg)}
	}
	out := make([]string, 0, len(algs))
	for _, a := range algs {
		out = append(out, string(a))
	}
	return out
}
