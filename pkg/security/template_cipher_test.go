package security

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKMS struct {
	mu      sync.Mutex
	keys    map[string][]byte
	seq     int
	lastCtx map[string]string
	fail    error
}

func newFakeKMS() *fakeKMS { return &fakeKMS{keys: map[string][]byte{}} }

func (f *fakeKMS) GenerateDataKey(_ context.Context, in *kms.GenerateDataKeyInput, _ ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	f.seq++
	blob := []byte(fmt.Sprintf("%s#%d", *in.KeyId, f.seq))
	f.keys[string(blob)] = bytes.Clone(key)
	f.lastCtx = in.EncryptionContext
	return &kms.GenerateDataKeyOutput{Plaintext: key, CiphertextBlob: blob}, nil
}

func (f *fakeKMS) Decrypt(_ context.Context, in *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, ok := f.keys[string(in.CiphertextBlob)]
	if !ok {
		return nil, errors.New("InvalidCiphertextException")
	}
	return &kms.DecryptOutput{Plaintext: bytes.Clone(key)}, nil
}

func TestTemplateCipher_RoundTrip(t *testing.T) {
	fake := newFakeKMS()
	c, err := WithClient(fake, KMSConfig{KeyID: "alias/voiceid", EncryptionContext: map[string]string{"purpose": "voice-template"}})
	require.NoError(t, err)

	template := []byte("voiceprint-bytes")
	sealed, err := c.Seal(context.Background(), template)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(sealed, template))
	assert.Equal(t, "voice-template", fake.lastCtx["purpose"])

	again, err := c.Seal(context.Background(), template)
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "each seal uses a fresh data key and nonce")

	plain, err := c.Open(context.Background(), sealed)
	require.NoError(t, err)
	assert.Equal(t, template, plain)
}

func TestTemplateCipher_Rejects(t *testing.T) {
	c, err := WithClient(newFakeKMS(), KMSConfig{KeyID: "k"})
	require.NoError(t, err)
	sealed, err := c.Seal(context.Background(), []byte("tpl"))
	require.NoError(t, err)

	_, err = c.Open(context.Background(), nil)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)

	_, err = c.Open(context.Background(), []byte{envelopeVersion, 0xFF, 0xFF, 1})
	assert.ErrorIs(t, err, ErrMalformedEnvelope)

	tampered := bytes.Clone(sealed)
	tampered[len(tampered)-1] ^= 0x01
	_, err = c.Open(context.Background(), tampered)
	assert.Error(t, err)

	wrongVersion := bytes.Clone(sealed)
	wrongVersion[0] = 9
	_, err = c.Open(context.Background(), wrongVersion)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestTemplateCipher_KMSFailure(t *testing.T) {
	fake := newFakeKMS()
	fake.fail = errors.New("throttled")
	c, err := WithClient(fake, KMSConfig{KeyID: "k"})
	require.NoError(t, err)

	_, err = c.Seal(context.Background(), []byte("tpl"))
	assert.ErrorContains(t, err, "throttled")

	_, err = WithClient(fake, KMSConfig{})
	assert.Error(t, err)
}
