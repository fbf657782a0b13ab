package wire

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

const (
	keychainKeySize = 16 // AES-128, derived from SHA-256 of the key material
	keychainMACSize = 4  // HMAC-SHA256 truncated
)

var (
	ErrNoMatchingKey      = errors.New("no keychain key decrypts this payload")
	ErrCiphertextTooShort = errors.New("ciphertext too short for MAC")
	ErrUnknownKey         = errors.New("unknown key name")
)

// Keychain holds the named symmetric keys used for optional payload
// encryption. Key material of any length is accepted; the working key is
// SHA-256 of the material truncated to 16 bytes.
//
// Encrypted payloads carry a truncated HMAC so decryption can try every key
// in the chain: a MAC match identifies the key, a miss on all keys means the
// node cannot read the message (but may still relay it).
type Keychain struct {
	keys map[string][]byte
}

func NewKeychain() *Keychain {
	return &Keychain{keys: make(map[string][]byte)}
}

// AddKey registers key material under a name, replacing any previous key
// with the same name.
func (k *Keychain) AddKey(name string, material []byte) {
	sum := sha256.Sum256(material)
	k.keys[name] = sum[:keychainKeySize]
}

func (k *Keychain) DelKey(name string) {
	delete(k.keys, name)
}

func (k *Keychain) HasKey(name string) bool {
	_, ok := k.keys[name]
	return ok
}

// ListKeys returns the registered key names in stable order.
func (k *Keychain) ListKeys() []string {
	names := make([]string, 0, len(k.keys))
	for name := range k.keys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// nonce derives the AES-CTR IV from the immutable message identity. ID and
// sender never change across relays, so every copy of a message decrypts
// with the same stream.
func nonce(msgID uint32, sender NodeID) []byte {
	iv := make([]byte, aes.BlockSize)
	binary.LittleEndian.PutUint64(iv[0:8], uint64(msgID))
	copy(iv[8:14], sender[:])
	return iv
}

// EncryptPayload encrypts plain with the named key. The result is a
// truncated HMAC-SHA256 tag followed by the AES-CTR ciphertext.
func (k *Keychain) EncryptPayload(keyName string, plain []byte, msgID uint32, sender NodeID) ([]byte, error) {
	key, ok := k.keys[keyName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, keyName)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, keychainMACSize+len(plain))
	cipher.NewCTR(block, nonce(msgID, sender)).XORKeyStream(out[keychainMACSize:], plain)

	mac := hmac.New(sha256.New, key)
	mac.Write(out[keychainMACSize:])
	copy(out[:keychainMACSize], mac.Sum(nil))
	return out, nil
}

// DecryptPayload tries every key in the chain against an encrypted payload.
// It returns the name of the matching key and the plaintext, or
// ErrNoMatchingKey if the node holds no key for this message.
func (k *Keychain) DecryptPayload(encr []byte, msgID uint32, sender NodeID) (string, []byte, error) {
	if len(encr) < keychainMACSize {
		return "", nil, ErrCiphertextTooShort
	}
	tag, body := encr[:keychainMACSize], encr[keychainMACSize:]
	for name, key := range k.keys {
		mac := hmac.New(sha256.New, key)
		mac.Write(body)
		if !hmac.Equal(tag, mac.Sum(nil)[:keychainMACSize]) {
			continue
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return "", nil, err
		}
		plain := make([]byte, len(body))
		cipher.NewCTR(block, nonce(msgID, sender)).XORKeyStream(plain, body)
		return name, plain, nil
	}
	return "", nil, ErrNoMatchingKey
}
