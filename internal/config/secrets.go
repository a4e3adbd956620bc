package config

import (
	"os"

	"github.com/zalando/go-keyring"
)

// KeyringService is the OS keyring service holding proxy credentials.
const KeyringService = "tiktok-trending"

const (
	keyringProxyUser = "proxy-user"
	keyringProxyPass = "proxy-pass"
)

// lookupSecret reads envKey, falling back to the OS keyring entry. A missing
// keyring or entry yields "".
func lookupSecret(envKey, keyringKey string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	v, err := keyring.Get(KeyringService, keyringKey)
	if err != nil {
		return ""
	}
	return v
}

// StoreProxyCredentials saves proxy credentials to the OS keyring so later
// runs do not need them in the environment.
func StoreProxyCredentials(username, password string) error {
	if err := keyring.Set(KeyringService, keyringProxyUser, username); err != nil {
		return err
	}
	return keyring.Set(KeyringService, keyringProxyPass, password)
}
