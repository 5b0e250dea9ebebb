package core

import (
	"errors"

	"github.com/illarion/filevault/internal/crypto"
	"github.com/illarion/filevault/internal/storage"
)

var (
	ErrAlreadyInitialized = errors.New("vault already initialized")
	ErrNotInitialized     = errors.New("vault not initialized")
	ErrUnauthorized       = errors.New("wrong password")
	ErrLocked             = errors.New("vault is locked by another operation")
	ErrInvalidName        = errors.New("invalid file name")

	ErrCorruptMetadata = storage.ErrCorruptMetadata
	ErrArtifactIO      = storage.ErrArtifactIO
	ErrCipher          = crypto.ErrCipher
	ErrDerivation      = crypto.ErrDerivation
)
