// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package strutils

import "strings"

// StrListContains looks for a string in a list of strings.
func StrListContains(haystack []string, needle string) bool {
	for _, item := range haystack {
		if item == needle {
			return true
		}
	}
	return false
}

// RemoveDuplicatesStable removes duplicate and empty elements from a slice of
// strings, preserving order (and case) of the original slice.
// In case of duplicates, the first one is retained.
// If caseInsensitive is set, strings will be compared case insensitively.
func RemoveDuplicatesStable(items []string, caseInsensitive bool) []string {
	itemsMap := make(map[string]bool, len(items))
	deduplicated := make([]string, 0, len(items))

	for _, item := range items {
		key := item
		if caseInsensitive {
			key = strings.ToLower(key)
		}
		if trimmed := strings.TrimSpace(key); trimmed == "" || itemsMap[trimmed] {
			continue
		} else {
			key = trimmed
		}
		itemsMap[key] = true
		deduplicated = append(deduplicated, item)
	}
	return deduplicated
}

// SplitScopes splits a space or comma separated scope list, trims each entry
// and drops empties and duplicates.
func SplitScopes(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ','
	})
	return RemoveDuplicatesStable(fields, false)
}
