// Package core provides the vault engine.
//
// Core operations include:
//   - Create: Initialize a vault directory with a password-derived salt and hash
//   - VerifyPassword: Check a password against the stored hash in constant time
//   - AddFile/AddPath: Encrypt a file into a fresh artifact and index it
//   - ExtractAll: Decrypt every stored file into a destination directory
//   - RemoveFile: Drop an entry and its artifact
//   - ReadMetadata: Return the current file index
//   - Diff: Compare stored files with a local directory
//   - Orphans/PruneOrphans: Find and delete artifacts no entry refers to
//
// Every operation verifies the password first and derives the key for that
// call only; keys are zeroed before the call returns. Mutating operations
// hold an exclusive advisory lock on the vault's lock file, read-only
// operations a shared one.
//
// Conflict handling during extraction supports multiple strategies:
//   - Overwrite the local file
//   - Skip files that already exist
//   - Keep both (saves vault version as .from-vault)
package core
