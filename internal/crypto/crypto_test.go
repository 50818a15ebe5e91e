package crypto

import (
	"crypto/ed25519"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return priv
}

func TestEncryptDecryptKey(t *testing.T) {
	priv := newKey(t)

	blob, err := EncryptKey(priv, "correct horse")
	require.NoError(t, err)

	var stored encryptedKeyJSON
	require.NoError(t, json.Unmarshal(blob, &stored))
	assert.Equal(t, currentVersion, stored.Version)
	assert.Equal(t, "ed25519", stored.Scheme)
	assert.NotContains(t, string(blob), string(priv))

	got, err := DecryptKey(blob, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, []byte(priv), got)

	_, err = DecryptKey(blob, "wrong")
	assert.ErrorContains(t, err, "decryption failed")
}

func TestEncryptKey_Rejects(t *testing.T) {
	_, err := EncryptKey(newKey(t), "")
	assert.ErrorContains(t, err, "password must not be empty")

	_, err = EncryptKey(make([]byte, 32), "pw")
	assert.ErrorContains(t, err, "expected 64-byte key")
}

func TestDecryptKey_UnsupportedVersion(t *testing.T) {
	blob, err := EncryptKey(newKey(t), "pw")
	require.NoError(t, err)

	var stored encryptedKeyJSON
	require.NoError(t, json.Unmarshal(blob, &stored))
	stored.Version = 1
	tampered, err := json.Marshal(stored)
	require.NoError(t, err)

	_, err = DecryptKey(tampered, "pw")
	assert.ErrorContains(t, err, "unsupported version")
}

func TestDecryptKeyFile(t *testing.T) {
	priv := newKey(t)
	blob, err := EncryptKey(priv, "pw")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "keeper.enc.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err := DecryptKeyFile(path, "pw")
	require.NoError(t, err)
	assert.Equal(t, []byte(priv), got)

	_, err = DecryptKeyFile(filepath.Join(t.TempDir(), "missing"), "pw")
	assert.ErrorContains(t, err, "reading encrypted key file")
}

func TestVerifyScheduler(t *testing.T) {
	const secret = "sched-secret"
	now := time.Unix(1_760_000_000, 0)
	ts, sig := SignSchedulerRequest(secret, "POST", "/api/battles/scan", now)

	assert.NoError(t, VerifyScheduler(secret, ts, sig, "POST", "/api/battles/scan", now.Add(4*time.Minute)))
	assert.NoError(t, VerifyScheduler(secret, ts, sig, "POST", "/api/battles/scan", now.Add(-4*time.Minute)))

	assert.ErrorIs(t, VerifyScheduler(secret, ts, sig, "POST", "/api/battles/scan", now.Add(6*time.Minute)), ErrSignatureExpired)
	assert.ErrorIs(t, VerifyScheduler(secret, ts, sig, "POST", "/api/battles/A/execute", now), ErrSignatureInvalid)
	assert.ErrorIs(t, VerifyScheduler("other", ts, sig, "POST", "/api/battles/scan", now), ErrSignatureInvalid)
	assert.ErrorIs(t, VerifyScheduler(secret, "not-a-number", sig, "POST", "/api/battles/scan", now), ErrSignatureInvalid)
	assert.ErrorIs(t, VerifyScheduler("", ts, sig, "POST", "/api/battles/scan", now), ErrSignatureMissing)
	assert.ErrorIs(t, VerifyScheduler(secret, ts, "", "POST", "/api/battles/scan", now), ErrSignatureMissing)
}

func TestSchedulerSignatureKnownVector(t *testing.T) {
	sig := SchedulerSignature("k", "1700000000", "POST", "/api/battles/scan")
	assert.Equal(t, "jhaR/DwAx/0rsire/EZzLmvw7QI3FqbjNsjiMKa+zUk=", sig)
}
