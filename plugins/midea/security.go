package midea

import (
	"bytes"
	"crypto/aes"
	"crypto/md5" // nolint:gosec
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Security signs cloud requests and derives the payload cipher for a session.
// The vendor algorithm is undocumented, so it is kept behind an interface and
// verified against captured traffic.
type Security interface {
	Sign(rawURL string, params map[string]string) (string, error)
	EncryptPassword(loginID, password string) string
	Bind(accessToken string) (PayloadCipher, error)
}

// PayloadCipher seals relay orders with key material bound to one access token.
type PayloadCipher interface {
	Encrypt(plain []byte) ([]byte, error)
	Decrypt(sealed []byte) ([]byte, error)
}

// Signer is the Security used by the Midea mobile apps.
type Signer struct {
	appKey string
}

func NewSigner(appKey string) *Signer {
	return &Signer{appKey: appKey}
}

// Sign hashes the url path, the sorted unescaped query and the app key.
func (s *Signer) Sign(rawURL string, params map[string]string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	return sha256Hex([]byte(u.Path + strings.Join(parts, "&") + s.appKey)), nil
}

func (s *Signer) EncryptPassword(loginID, password string) string {
	return sha256Hex([]byte(loginID + sha256Hex([]byte(password)) + s.appKey))
}

// Bind unwraps the data key carried (encrypted) in the access token.
func (s *Signer) Bind(accessToken string) (PayloadCipher, error) {
	if accessToken == "" {
		return nil, errors.New("access token is empty")
	}
	sealed, err := hex.DecodeString(accessToken)
	if err != nil {
		return nil, fmt.Errorf("decode access token: %w", err)
	}
	dataKey, err := aesEcbDecrypt(sealed, s.tokenKey())
	if err != nil {
		return nil, fmt.Errorf("unwrap data key: %w", err)
	}
	switch len(dataKey) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("unexpected data key length %d", len(dataKey))
	}
	return dataCipher{key: dataKey}, nil
}

func (s *Signer) tokenKey() []byte {
	return []byte(md5Hex([]byte(s.appKey))[:16])
}

type dataCipher struct {
	key []byte
}

func (c dataCipher) Encrypt(plain []byte) ([]byte, error) {
	return aesEcbEncrypt(plain, c.key)
}

func (c dataCipher) Decrypt(sealed []byte) ([]byte, error) {
	return aesEcbDecrypt(sealed, c.key)
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data) // nolint:gosec
	return hex.EncodeToString(sum[:])
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - (len(data) % blockSize)
	out := make([]byte, 0, len(data)+pad)
	out = append(out, data...)
	return append(out, bytes.Repeat([]byte{byte(pad)}, pad)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padding size")
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize || pad > len(data) {
		return nil, errors.New("invalid padding")
	}
	for i := 0; i < pad; i++ {
		if data[len(data)-1-i] != byte(pad) {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-pad], nil
}

func aesEcbEncrypt(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, block.BlockSize())
	out := make([]byte, len(padded))
	for start := 0; start < len(padded); start += block.BlockSize() {
		block.Encrypt(out[start:start+block.BlockSize()], padded[start:start+block.BlockSize()])
	}
	return out, nil
}

func aesEcbDecrypt(ciphertext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext)%block.BlockSize() != 0 {
		return nil, errors.New("invalid ecb ciphertext length")
	}
	out := make([]byte, len(ciphertext))
	for start := 0; start < len(ciphertext); start += block.BlockSize() {
		block.Decrypt(out[start:start+block.BlockSize()], ciphertext[start:start+block.BlockSize()])
	}
	return pkcs7Unpad(out, block.BlockSize())
}
