// Package wallet manages the agent's identity key: the secp256k1 key that
// signs A2A registrations, payment challenges, and on-chain transactions.
package wallet

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Source says where the identity came from on this start.
type Source string

const (
	Loaded    Source = "loaded"
	Generated Source = "generated"
)

// Identity is the agent's signing identity.
type Identity struct {
	Key     *ecdsa.PrivateKey
	Address string
}

type keyfile struct {
	Address    string `json:"address"`
	PrivateKey string `json:"private_key"`
}

// Load reads the identity keyfile at path, generating and persisting a new
// key when the file is missing. A corrupted file is an error, not silently
// replaced: losing an established identity is worse than failing to start.
func Load(path string) (*Identity, Source, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		id, genErr := generate(path)
		return id, Generated, genErr
	}
	if err != nil {
		return nil, "", fmt.Errorf("wallet: read keyfile: %w", err)
	}

	var kf keyfile
	if err := json.Unmarshal(raw, &kf); err != nil {
		return nil, "", fmt.Errorf("wallet: keyfile %s is corrupted: %w", path, err)
	}
	keyBytes, err := hexutil.Decode(kf.PrivateKey)
	if err != nil {
		return nil, "", fmt.Errorf("wallet: keyfile %s holds an invalid key: %w", path, err)
	}
	key, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, "", fmt.Errorf("wallet: keyfile %s holds an invalid key: %w", path, err)
	}

	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()
	return &Identity{Key: key, Address: addr}, Loaded, nil
}

func generate(path string) (*Identity, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()
	kf := keyfile{
		Address:    addr,
		PrivateKey: hexutil.Encode(crypto.FromECDSA(key)),
	}
	raw, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return nil, err
	}

	// Write via a temp file in the same directory so a crash never leaves a
	// half-written keyfile behind.
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("wallet: create key directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".wallet-*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return nil, err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, fmt.Errorf("wallet: persist keyfile: %w", err)
	}
	return &Identity{Key: key, Address: addr}, nil
}
