package security

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
)

// KMSClient is the subset of the KMS API envelope encryption needs.
type KMSClient interface {
	GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

type KMSConfig struct {
	KeyID             string
	EncryptionContext map[string]string
	Timeout           time.Duration
}

var ErrMalformedEnvelope = errors.New("malformed template envelope")

const envelopeVersion byte = 1

var templateAAD = []byte("voiceid/template/v1")

// TemplateCipher seals voice templates with a fresh KMS data key per template.
//
// Envelope layout: version(1) || len(encKey) uint16 BE || encKey || nonce || AES-GCM ciphertext.
type TemplateCipher struct {
	client KMSClient
	cfg    KMSConfig
}

func NewTemplateCipher(ctx context.Context, cfg KMSConfig, optFns ...func(*awscfg.LoadOptions) error) (*TemplateCipher, error) {
	awsCfg, err := awscfg.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return WithClient(kms.NewFromConfig(awsCfg), cfg)
}

// WithClient builds a cipher around an existing KMS client.
func WithClient(client KMSClient, cfg KMSConfig) (*TemplateCipher, error) {
	if cfg.KeyID == "" {
		return nil, errors.New("kms: KeyID required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &TemplateCipher{client: client, cfg: cfg}, nil
}

// Seal implements repository.TemplateSealer.
func (c *TemplateCipher) Seal(ctx context.Context, plaintext []byte) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	in := &kms.GenerateDataKeyInput{
		KeyId:   aws.String(c.cfg.KeyID),
		KeySpec: kmstypes.DataKeySpecAes256,
	}
	if len(c.cfg.EncryptionContext) > 0 {
		in.EncryptionContext = c.cfg.EncryptionContext
	}
	out, err := c.client.GenerateDataKey(cctx, in)
	if err != nil {
		return nil, fmt.Errorf("kms GenerateDataKey: %w", err)
	}
	defer wipe(out.Plaintext)
	if len(out.CiphertextBlob) > 0xFFFF {
		return nil, errors.New("kms: encrypted data key too large")
	}

	gcm, err := newGCM(out.Plaintext)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	header := make([]byte, 3, 3+len(out.CiphertextBlob)+len(nonce)+len(plaintext)+gcm.Overhead())
	header[0] = envelopeVersion
	binary.BigEndian.PutUint16(header[1:], uint16(len(out.CiphertextBlob)))
	sealed := append(header, out.CiphertextBlob...)
	sealed = append(sealed, nonce...)
	return gcm.Seal(sealed, nonce, plaintext, templateAAD), nil
}

// Open implements repository.TemplateSealer.
func (c *TemplateCipher) Open(ctx context.Context, sealed []byte) ([]byte, error) {
	if len(sealed) < 3 || sealed[0] != envelopeVersion {
		return nil, ErrMalformedEnvelope
	}
	keyLen := int(binary.BigEndian.Uint16(sealed[1:3]))
	rest := sealed[3:]
	if len(rest) < keyLen {
		return nil, ErrMalformedEnvelope
	}
	encKey, body := rest[:keyLen], rest[keyLen:]

	cctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	in := &kms.DecryptInput{CiphertextBlob: encKey}
	if len(c.cfg.EncryptionContext) > 0 {
		in.EncryptionContext = c.cfg.EncryptionContext
	}
	out, err := c.client.Decrypt(cctx, in)
	if err != nil {
		return nil, fmt.Errorf("kms Decrypt: %w", err)
	}
	defer wipe(out.Plaintext)

	gcm, err := newGCM(out.Plaintext)
	if err != nil {
		return nil, err
	}
	ns := gcm.NonceSize()
	if len(body) < ns+gcm.Overhead() {
		return nil, ErrMalformedEnvelope
	}
	plain, err := gcm.Open(nil, body[:ns], body[ns:], templateAAD)
	if err != nil {
		return nil, fmt.Errorf("gcm.Open: %w", err)
	}
	return plain, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) == 0 {
		return nil, errors.New("kms: empty data key")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
