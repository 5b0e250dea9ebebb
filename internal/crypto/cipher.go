package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

const IVSize = aes.BlockSize // 16-byte CBC initialization vector

var (
	ErrCipher         = errors.New("cipher error")
	ErrInvalidKey     = fmt.Errorf("%w: invalid key size", ErrCipher)
	ErrInvalidLength  = fmt.Errorf("%w: ciphertext is not a multiple of the block size", ErrCipher)
	ErrInvalidPadding = fmt.Errorf("%w: invalid padding", ErrCipher)
)

// Encrypt encrypts plaintext with AES-256-CBC under a fresh random IV
func Encrypt(plaintext, key []byte) (ciphertext, iv []byte, err error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, nil, err
	}

	iv, err = GenerateRandom(IVSize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	ciphertext = pkcs7Pad(plaintext, aes.BlockSize)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, ciphertext)
	return ciphertext, iv, nil
}

// Decrypt reverses Encrypt. A padding error usually means a wrong key or
// corrupted data.
func Decrypt(ciphertext, key, iv []byte) ([]byte, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("%w: invalid IV size %d", ErrCipher, len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrInvalidLength
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		ClearBytes(plaintext)
		return nil, err
	}
	return unpadded, nil
}

func newBlock(key []byte) (cipher.Block, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return block, nil
}

// pkcs7Pad returns a new slice; data is not modified
func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+n)
	copy(out, data)
	copy(out[len(data):], bytes.Repeat([]byte{byte(n)}, n))
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrInvalidPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, ErrInvalidPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrInvalidPadding
		}
	}
	return data[:len(data)-n], nil
}

// Encryptor holds a key for a series of artifact operations
type Encryptor struct {
	key []byte
}

// NewEncryptor creates a new encryptor with the given key
func NewEncryptor(key []byte) *Encryptor {
	return &Encryptor{
		key: key,
	}
}

// Seal encrypts plaintext and returns IV || ciphertext
func (e *Encryptor) Seal(plaintext []byte) ([]byte, error) {
	ciphertext, iv, err := Encrypt(plaintext, e.key)
	if err != nil {
		return nil, err
	}

	result := make([]byte, IVSize+len(ciphertext))
	copy(result, iv)
	copy(result[IVSize:], ciphertext)
	return result, nil
}

// Open splits an IV || ciphertext artifact and decrypts it
func (e *Encryptor) Open(artifact []byte) ([]byte, error) {
	if len(artifact) < IVSize {
		return nil, fmt.Errorf("%w: artifact shorter than IV", ErrCipher)
	}
	return Decrypt(artifact[IVSize:], e.key, artifact[:IVSize])
}

// Destroy clears the encryptor's key from memory
func (e *Encryptor) Destroy() {
	ClearBytes(e.key)
}
