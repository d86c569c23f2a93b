package sshbatch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ScaleFT/sshkeys"
	"golang.org/x/crypto/ssh"
)

// LoadedKey is shared by reference across all sessions of a batch once
// loaded — it never mutates after construction.
type LoadedKey struct {
	Signer ssh.Signer
}

// keyCacheEntry holds either a loaded key or a cached failure — a bad key
// must not be reparsed once per host.
type keyCacheEntry struct {
	key *LoadedKey
	err *ErrorDescriptor
}

// KeyMaterialLoader loads and caches OpenSSH/PPK private keys, keyed by
// (canonical path, passphrase hash). Safe for concurrent use. Dropped at
// batch completion by simply discarding the loader.
type KeyMaterialLoader struct {
	mu    sync.Mutex
	cache map[string]*keyCacheEntry
}

// NewKeyMaterialLoader creates an empty loader, one per batch run.
func NewKeyMaterialLoader() *KeyMaterialLoader {
	return &KeyMaterialLoader{cache: make(map[string]*keyCacheEntry)}
}

// Load returns the key material for the given AuthMaterial. For password
// auth it returns (nil, nil) — there is no key to load.
func (l *KeyMaterialLoader) Load(auth AuthMaterial) (*LoadedKey, *ErrorDescriptor) {
	if auth.Kind == AuthPassword {
		return nil, nil
	}

	canonical, err := filepath.Abs(auth.KeyPath)
	if err != nil {
		canonical = auth.KeyPath
	}
	cacheKey := canonical + "#" + passphraseFingerprint(auth.Passphrase)

	l.mu.Lock()
	if entry, ok := l.cache[cacheKey]; ok {
		l.mu.Unlock()
		return entry.key, entry.err
	}
	l.mu.Unlock()

	key, loadErr := l.load(canonical, auth)

	l.mu.Lock()
	l.cache[cacheKey] = &keyCacheEntry{key: key, err: loadErr}
	l.mu.Unlock()

	return key, loadErr
}

func (l *KeyMaterialLoader) load(path string, auth AuthMaterial) (*LoadedKey, *ErrorDescriptor) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ErrorDescriptor{
			Kind:      KindKeyMaterial,
			Message:   fmt.Sprintf("read key %s: %v. Check key path and passphrase", path, err),
			Retryable: false,
		}
	}

	// sshkeys auto-detects OpenSSH PEM, PKCS1/8, and PuTTY PPK formats and
	// handles the passphrase uniformly across all three, including an
	// empty one — golang.org/x/crypto/ssh's own ParsePrivateKey only
	// understands PEM/OpenSSH and would misparse an unencrypted PPK key.
	signer, err := sshkeys.ParseEncryptedPrivateKey(data, []byte(auth.Passphrase))
	if err != nil {
		return nil, &ErrorDescriptor{
			Kind:      KindKeyMaterial,
			Message:   fmt.Sprintf("parse key %s: %v. Check key path and passphrase", path, err),
			Retryable: false,
		}
	}

	return &LoadedKey{Signer: signer}, nil
}

// passphraseFingerprint hashes a passphrase so the cache key never holds
// the secret itself. Secrets never appear in any emitted event, log, or
// error; the cache key is internal, but we hold that invariant everywhere
// on principle.
func passphraseFingerprint(p Secret) string {
	if len(p) == 0 {
		return "none"
	}
	sum := sha256.Sum256(p)
	return hex.EncodeToString(sum[:8])
}
