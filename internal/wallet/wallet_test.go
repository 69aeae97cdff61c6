package wallet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGeneratesWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "wallet.json")

	id, source, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Generated, source)
	require.NotNil(t, id.Key)
	assert.Equal(t, crypto.PubkeyToAddress(id.Key.PublicKey).Hex(), id.Address)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.json")

	first, source, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Generated, source)

	second, source, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Loaded, source)
	assert.Equal(t, first.Address, second.Address)
	assert.Equal(t, crypto.FromECDSA(first.Key), crypto.FromECDSA(second.Key))
}

func TestLoadCorruptedKeyfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))

	_, _, err := Load(path)
	assert.ErrorContains(t, err, "corrupted")

	// Corruption must not overwrite the file.
	raw, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, "{broken", string(raw))
}

func TestLoadInvalidKeyMaterial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"address":"0x00","private_key":"0x1234"}`), 0o600))

	_, _, err := Load(path)
	assert.ErrorContains(t, err, "invalid key")
}
