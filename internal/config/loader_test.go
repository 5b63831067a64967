package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(context.Background(), writeConfig(t, "env: test\n"), nil)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, time.Hour, cfg.Verification.SessionTTL)
	assert.Equal(t, 120*time.Second, cfg.Verification.ChallengeTTL)
	assert.Equal(t, 300*time.Second, cfg.Verification.ConfirmationTTL)
	assert.Equal(t, time.Hour, cfg.Verification.LockoutTTL)
	assert.Equal(t, 3, cfg.Verification.MaxFailures)
	assert.InDelta(t, 0.85, cfg.Verification.MatchThreshold, 1e-9)
	assert.Equal(t, 5, cfg.Verification.ConfirmMaxAttempts)
	assert.Equal(t, time.Hour, cfg.Callback.TokenTTL)
	assert.Equal(t, 3, cfg.RateLimit.MaxPerPhonePerHour)
	assert.Equal(t, 40, cfg.RateLimit.Burst)
	assert.Equal(t, "voiceid-audit", cfg.Elasticsearch.IndexPrefix)
}

func TestLoadConfig_YAMLAndEnv(t *testing.T) {
	t.Setenv("VOICEID_TEST_HOST", "redis.internal")
	t.Setenv("TELEPHONY_API_KEY", "from-env")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	path := writeConfig(t, `
env: staging
port: 9090
redis:
  url: redis://${VOICEID_TEST_HOST}:6379/0
verification:
  session_ttl: 30m
  max_failures: 5
risk:
  timezone: Asia/Kolkata
telephony:
  api_key: from-yaml
kafka:
  enabled: true
`)
	cfg, err := LoadConfig(context.Background(), path, nil)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "redis://redis.internal:6379/0", cfg.Redis.URL)
	assert.Equal(t, 30*time.Minute, cfg.Verification.SessionTTL)
	assert.Equal(t, 5, cfg.Verification.MaxFailures)
	assert.Equal(t, "from-env", cfg.Telephony.APIKey)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)

	loc, err := cfg.Risk.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Kolkata", loc.String())
}

func TestLoadConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"threshold above one", "verification:\n  match_threshold: 1.5\n"},
		{"negative confirm attempts", "verification:\n  confirm_max_attempts: -1\n"},
		{"bad timezone", "risk:\n  timezone: Mars/Olympus\n"},
		{"production without signing key", "env: production\n"},
		{"kafka without brokers", "kafka:\n  enabled: true\n"},
		{"elasticsearch without addresses", "elasticsearch:\n  enabled: true\n"},
		{"production without stores", "env: production\ncallback:\n  signing_key: k\ntelephony:\n  base_url: https://t\nmatcher:\n  base_url: https://m\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(context.Background(), writeConfig(t, tt.body), nil)
			assert.Error(t, err)
		})
	}
}

type fakeSSM struct{ values map[string]string }

func (f fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	v, ok := f.values[aws.ToString(in.Name)]
	if !ok {
		return nil, errors.New("ParameterNotFound")
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: aws.String(v)}}, nil
}

type fakeSecrets struct{ values map[string]string }

func (f fakeSecrets) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	v, ok := f.values[aws.ToString(in.SecretId)]
	if !ok {
		return nil, errors.New("ResourceNotFoundException")
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

func TestLoadConfig_ResolvesSecretRefs(t *testing.T) {
	resolver := NewAWSSecretResolverWithClients(
		fakeSSM{values: map[string]string{"/voiceid/callback-key": "s3cr3t"}},
		fakeSecrets{values: map[string]string{"voiceid/db": "postgres://u:p@db/voiceid"}},
	)
	path := writeConfig(t, `
database_url: secretsmanager:voiceid/db
callback:
  signing_key: ssm:/voiceid/callback-key
`)
	cfg, err := LoadConfig(context.Background(), path, resolver)
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db/voiceid", cfg.DatabaseURL)
	assert.Equal(t, "s3cr3t", cfg.Callback.SigningKey)
}

func TestLoadConfig_UnresolvableSecret(t *testing.T) {
	resolver := NewAWSSecretResolverWithClients(fakeSSM{}, fakeSecrets{})
	path := writeConfig(t, "callback:\n  signing_key: ssm:/missing\n")
	_, err := LoadConfig(context.Background(), path, resolver)
	assert.Error(t, err)
}
