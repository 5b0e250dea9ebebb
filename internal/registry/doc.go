// Package registry maps human readable vault names to vault directories.
//
// The registry is a single bbolt database, usually
// ~/.filevault/registry.db. Each vault gets its own directory under
// <root>/vaults/<uuid>, where <root> is the directory holding the
// database. Names are unique ignoring case.
//
// Database layout:
//
//	config/  version and creation time of the registry
//	vaults/  lower-cased name -> JSON encoded VaultInfo
package registry
