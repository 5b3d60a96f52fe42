package agent

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/tyler-smith/go-bip39"
)

var (
	ErrInvalidKey      = errors.New("agent: invalid private key")
	ErrInvalidKeystore = errors.New("agent: invalid keystore")
	ErrInvalidMnemonic = errors.New("agent: invalid mnemonic")
)

// KeyFromBase58 parses a base58 encoded 64 byte private key.
func KeyFromBase58(base58Key string) (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromBase58(strings.TrimSpace(base58Key))
	if err != nil || len(key) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKey
	}
	return key, nil
}

// KeyFromKeygenFile loads a private key from a Solana keygen JSON file.
func KeyFromKeygenFile(path string) (solana.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeystore, err)
	}

	// [1, 2, 3, ...]
	var keyBytes []byte
	if err := json.Unmarshal(data, &keyBytes); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON format", ErrInvalidKeystore)
	}
	if len(keyBytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: invalid key length", ErrInvalidKeystore)
	}
	return solana.PrivateKey(keyBytes), nil
}

// KeyFromMnemonic derives a key from a BIP-39 mnemonic the way the Solana
// CLI's "prompt:" keypair does: the first 32 bytes of the seed are the
// ed25519 seed.
func KeyFromMnemonic(mnemonic, passphrase string) (solana.PrivateKey, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	return solana.PrivateKey(ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])), nil
}

// LoadKey accepts a path to a keygen file, a mnemonic, or a base58 key.
func LoadKey(source string) (solana.PrivateKey, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, ErrInvalidKey
	}
	if info, err := os.Stat(source); err == nil && !info.IsDir() {
		return KeyFromKeygenFile(source)
	}
	if strings.Contains(source, " ") {
		return KeyFromMnemonic(source, "")
	}
	return KeyFromBase58(source)
}
