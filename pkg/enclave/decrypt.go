package enclave

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/shadowswap/engine/pkg/order"
)

// Decryptor turns an opaque encrypted payload plus its dataset reference
// into a plaintext order. It is the trust boundary of the enclave: a
// decrypt failure is reported as a rejection, never as a fatal error.
type Decryptor interface {
	Decrypt(sealed []byte, datasetRef string) (order.Raw, error)
}

const (
	keySize   = 32
	nonceSize = 12
)

// AESDecryptor implements the DataProtector-style envelope: a per-dataset
// key derived from the enclave master key with HKDF-SHA256 (the dataset
// reference is the info string), AES-256-GCM over the JSON payload. The
// sealed layout is nonce || ciphertext.
type AESDecryptor struct {
	master []byte
}

func NewAESDecryptor(masterKey []byte) (*AESDecryptor, error) {
	if len(masterKey) != keySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", keySize, len(masterKey))
	}
	return &AESDecryptor{master: append([]byte(nil), masterKey...)}, nil
}

func (d *AESDecryptor) datasetAEAD(datasetRef string) (cipher.AEAD, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, d.master, nil, []byte(datasetRef)), key); err != nil {
		return nil, fmt.Errorf("derive dataset key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (d *AESDecryptor) Decrypt(sealed []byte, datasetRef string) (order.Raw, error) {
	aead, err := d.datasetAEAD(datasetRef)
	if err != nil {
		return order.Raw{}, err
	}
	if len(sealed) < nonceSize {
		return order.Raw{}, fmt.Errorf("sealed payload too short: %d bytes", len(sealed))
	}

	plaintext, err := aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return order.Raw{}, fmt.Errorf("open payload: %w", err)
	}

	var raw order.Raw
	if err := json.Unmarshal(plaintext, &raw); err != nil {
		return order.Raw{}, fmt.Errorf("decode order payload: %w", err)
	}
	return raw, nil
}

// Seal is the wallet-side counterpart of Decrypt. The engine itself never
// seals in production; this backs tests and local order tooling.
func (d *AESDecryptor) Seal(raw order.Raw, datasetRef string) ([]byte, error) {
	aead, err := d.datasetAEAD(datasetRef)
	if err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return append(nonce, aead.Seal(nil, nonce, plaintext, nil)...), nil
}
