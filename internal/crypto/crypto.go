// Package crypto encrypts stored credentials with a fernet key persisted
// in the settings table. The key is generated on first use.
package crypto

import (
	"fmt"
	"time"

	"github.com/fernet/fernet-go"

	"github.com/shellmux/shellmux/internal/profiles"
)

func getKey() (*fernet.Key, error) {
	keyStr, err := profiles.GetSetting("fernet_key")
	if err != nil {
		var k fernet.Key
		if err := k.Generate(); err != nil {
			return nil, fmt.Errorf("generate fernet key: %w", err)
		}
		keyStr = k.Encode()
		if err := profiles.SetSetting("fernet_key", keyStr); err != nil {
			return nil, fmt.Errorf("save fernet key: %w", err)
		}
		return &k, nil
	}

	key, err := fernet.DecodeKey(keyStr)
	if err != nil {
		return nil, fmt.Errorf("decode fernet key: %w", err)
	}
	return key, nil
}

func Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	key, err := getKey()
	if err != nil {
		return "", err
	}
	tok, err := fernet.EncryptAndSign([]byte(plaintext), key)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return string(tok), nil
}

func Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	key, err := getKey()
	if err != nil {
		return "", err
	}
	msg := fernet.VerifyAndDecrypt([]byte(ciphertext), 0*time.Second, []*fernet.Key{key})
	if msg == nil {
		return "", fmt.Errorf("decrypt: invalid token")
	}
	return string(msg), nil
}

// Mask returns a redacted preview of a stored secret for display.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) > 4 {
		return "****" + value[len(value)-4:]
	}
	return "****"
}
