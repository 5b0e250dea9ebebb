// Package storage provides the on-disk layout of a single vault.
//
// A vault directory contains:
//   - vault.salt: 16-byte KDF salt (raw bytes)
//   - vault.hash: 32-byte password verification hash (raw bytes)
//   - vault.meta: JSON index of stored files and vault timestamps
//   - <uuid>.enc: one encrypted artifact per stored file (IV || ciphertext)
//
// Metadata and artifacts are written to a temporary file and renamed into
// place, so a crash never leaves a truncated file under its final name.
// A present but unreadable vault.meta is reported as ErrCorruptMetadata
// and never replaced with an empty index.
package storage
