// Package crypto provides cryptographic operations for filevault.
//
// Key derivation uses Argon2id with:
//   - 16-byte random salt (stored unencrypted next to the vault)
//   - parallelism 8, 64 MiB memory, 4 iterations
//   - 32-byte output used as the AES-256 key
//
// Password verification stores HMAC-SHA256(key, label) rather than the key
// itself, so the verification file never reveals the encryption key.
//
// Encryption uses AES-256-CBC with PKCS7 padding and a fresh 16-byte IV
// per operation. Artifacts are stored as IV || ciphertext.
//
// Memory safety:
//   - Use ClearBytes() to zero sensitive data after use
//   - Call Encryptor.Destroy() when done with encryption operations
package crypto
