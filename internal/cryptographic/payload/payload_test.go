package payload

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)

	plaintext := []byte("the canary sings at midnight")
	aad := []byte("tag:7")

	sealed, err := Seal(key, plaintext, aad)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, sealed)

	opened, err := Open(key, sealed, aad)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)

	// Wrong aad must fail authentication.
	_, err = Open(key, sealed, []byte("tag:8"))
	require.Error(t, err)

	// Tampered ciphertext must fail.
	sealed[len(sealed)-1] ^= 1
	_, err = Open(key, sealed, aad)
	require.Error(t, err)
}

func TestSealRejectsBadKey(t *testing.T) {
	_, err := Seal(make([]byte, 16), []byte("x"), nil)
	require.Error(t, err)
}

func TestHybridRoundTrip(t *testing.T) {
	priv, pub, err := NewKeyPair()
	require.NoError(t, err)

	plaintext := []byte("hybrid sealed note details")

	sealed, err := SealHybrid(pub, plaintext, nil)
	require.NoError(t, err)

	opened, err := OpenHybrid(priv, sealed, nil)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)

	// Two sealings of the same plaintext differ (ephemeral key).
	sealed2, err := SealHybrid(pub, plaintext, nil)
	require.NoError(t, err)
	require.NotEqual(t, sealed, sealed2)

	// A different recipient key cannot open.
	otherPriv, _, err := NewKeyPair()
	require.NoError(t, err)
	_, err = OpenHybrid(otherPriv, sealed, nil)
	require.Error(t, err)
}
