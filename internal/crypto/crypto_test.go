package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/storeledger/internal/domain"
)

// Well-known development key (hardhat/anvil account 0).
const (
	devKey     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	devAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey("0x"+devKey, "hunter2")
	require.NoError(t, err)
	assert.Contains(t, string(blob), devAddress)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, devKey, got)

	_, err = DecryptKey(blob, "wrong")
	assert.ErrorContains(t, err, "decryption failed")

	_, err = EncryptKey(devKey, "")
	assert.Error(t, err)
	_, err = EncryptKey("abcd", "pw")
	assert.ErrorContains(t, err, "32-byte")
}

func TestLoadKey(t *testing.T) {
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + devKey})
	require.NoError(t, err)
	assert.Equal(t, devKey, got)

	blob, err := EncryptKey(devKey, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "operator.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, devKey, got)

	_, err = LoadKey(KeyConfig{})
	assert.Error(t, err)
	assert.True(t, KeyConfig{}.Empty())
}

func TestSigner_Address(t *testing.T) {
	s, err := NewSigner(devKey, 31337)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(devAddress), s.Address())
}

func TestRecoverCaller(t *testing.T) {
	s, err := NewSigner(devKey, 31337)
	require.NoError(t, err)
	body := []byte(`{"payment":"1000"}`)

	sig, err := s.SignRequest("1680000000", "post", "/api/trades/1/complete", body)
	require.NoError(t, err)

	got, err := RecoverCaller(sig, "1680000000", "POST", "/api/trades/1/complete", body)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), got)

	// Any change to the signed material yields a different signer.
	other, err := RecoverCaller(sig, "1680000000", "POST", "/api/trades/1/complete", []byte(`{"payment":"1"}`))
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), other)

	_, err = RecoverCaller("0x1234", "1680000000", "POST", "/", nil)
	assert.ErrorIs(t, err, domain.ErrBadSignature)
	_, err = RecoverCaller("zz", "1680000000", "POST", "/", nil)
	assert.ErrorIs(t, err, domain.ErrBadSignature)
}

func TestSnapshotSignature(t *testing.T) {
	s, err := NewSigner(devKey, 31337)
	require.NoError(t, err)
	digest := SnapshotDigest([]byte(`{"seq":42}`))

	sig, err := s.SignSnapshot(42, digest)
	require.NoError(t, err)

	require.NoError(t, VerifySnapshot(s.Address(), 31337, 42, digest, sig))
	assert.ErrorIs(t, VerifySnapshot(s.Address(), 31337, 43, digest, sig), domain.ErrBadSignature)
	assert.ErrorIs(t, VerifySnapshot(s.Address(), 1, 42, digest, sig), domain.ErrBadSignature)
	assert.ErrorIs(t, VerifySnapshot(common.HexToAddress("0x01"), 31337, 42, digest, sig), domain.ErrBadSignature)
}
