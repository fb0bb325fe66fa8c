// Package vault stores provider API keys in the OS keychain, with an
// environment variable fallback for headless machines.
package vault

import (
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/allaspectsdev/gateman/internal/catalog"
)

// serviceName is the keychain service entries are filed under, and the
// authority expected in keyring:// references.
const serviceName = "gateman"

const envPrefix = "GATEMAN_KEY_"

// EnvVar returns the environment variable consulted for a provider's key
// when the keychain has no entry, e.g. GATEMAN_KEY_OPENAI.
func EnvVar(provider string) string {
	return envPrefix + strings.ToUpper(provider)
}

// Source identifies where a provider's key was found.
type Source string

const (
	SourceKeychain Source = "keychain"
	SourceEnv      Source = "env"
	SourceNone     Source = "none"
)

// KeyStatus reports the key source for one catalog provider.
type KeyStatus struct {
	Provider string
	Source   Source
}

// Vault reads and writes provider API keys. Writes always target the OS
// keychain; reads fall back to GATEMAN_KEY_* environment variables so
// machines without a keychain daemon can still run the gateway.
type Vault struct{}

func New() *Vault {
	return &Vault{}
}

// Set stores a provider's API key in the OS keychain.
func (v *Vault) Set(provider, key string) error {
	return keyring.Set(serviceName, provider, key)
}

// Get returns the key for a provider, preferring the keychain over the
// environment fallback.
func (v *Vault) Get(provider string) (string, error) {
	key, src := v.lookup(provider)
	if src == SourceNone {
		return "", fmt.Errorf("no key for provider %q: not in keychain and %s not set", provider, EnvVar(provider))
	}
	return key, nil
}

// Delete removes a provider's key from the OS keychain. Keys supplied via
// environment variables are outside the vault's control.
func (v *Vault) Delete(provider string) error {
	return keyring.Delete(serviceName, provider)
}

// Statuses reports, for every provider in the model catalog, whether a key
// is available and where it came from. Ordering follows the catalog.
func (v *Vault) Statuses() []KeyStatus {
	providers := catalog.Providers()
	statuses := make([]KeyStatus, 0, len(providers))
	for _, p := range providers {
		_, src := v.lookup(p)
		statuses = append(statuses, KeyStatus{Provider: p, Source: src})
	}
	return statuses
}

func (v *Vault) lookup(provider string) (string, Source) {
	if secret, err := keyring.Get(serviceName, provider); err == nil && secret != "" {
		return secret, SourceKeychain
	}
	if val := os.Getenv(EnvVar(provider)); val != "" {
		return val, SourceEnv
	}
	return "", SourceNone
}

// ResolveKeyRef turns a key reference from the config file into the key
// itself. Three forms are accepted:
//
//	keyring://gateman/<provider>   OS keychain, env fallback
//	env:VARIABLE_NAME              environment variable
//	file:///path/to/key            plain-text file, whitespace trimmed
func (v *Vault) ResolveKeyRef(keyRef string) (string, error) {
	if rest, ok := strings.CutPrefix(keyRef, "keyring://"); ok {
		return v.resolveKeyringRef(rest)
	}
	if name, ok := strings.CutPrefix(keyRef, "env:"); ok {
		return resolveEnvRef(name)
	}
	if path, ok := strings.CutPrefix(keyRef, "file://"); ok {
		return resolveFileRef(path)
	}
	return "", fmt.Errorf("unrecognized key reference %q (expected \"keyring://gateman/<provider>\", \"env:VARIABLE_NAME\", or \"file:///path/to/key\")", keyRef)
}

// resolveKeyringRef handles the part after keyring://, which must name
// this service and a provider: gateman/<provider>.
func (v *Vault) resolveKeyringRef(rest string) (string, error) {
	service, provider, ok := strings.Cut(rest, "/")
	if !ok || service != serviceName || provider == "" {
		return "", fmt.Errorf("malformed keyring reference %q (expected \"keyring://gateman/<provider>\")", "keyring://"+rest)
	}
	return v.Get(provider)
}

func resolveEnvRef(name string) (string, error) {
	if val := os.Getenv(name); val != "" {
		return val, nil
	}
	return "", fmt.Errorf("environment variable %s is not set", name)
}

func resolveFileRef(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading key file: %w", err)
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", fmt.Errorf("key file %s is empty", path)
	}
	return key, nil
}
