// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package pagewal

import "path/filepath"

// NamespaceName identifies one logical database within the registry.
type NamespaceName string

// NamespaceResolver maps a database file path to the namespace it belongs
// to. It is a capability object injected into the registry: along with
// FrameFilter, it is the only per-host customization point, so the
// coordinator API itself stays fixed regardless of how a host lays out
// its databases on disk.
type NamespaceResolver func(dbPath string) (NamespaceName, error)

// DefaultNamespaceResolver resolves a namespace from a database path's file
// name, which is sufficient for a host that lays out one directory per
// database.
func DefaultNamespaceResolver(dbPath string) (NamespaceName, error) {
	name := filepath.Base(dbPath)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", ErrNamespaceMissing
	}
	return NamespaceName(name), nil
}
