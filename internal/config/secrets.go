package config

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/ComUnity/voiceid-service/internal/util/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

const (
	ssmPrefix            = "ssm:"
	secretsManagerPrefix = "secretsmanager:"
)

// SecretResolver turns a secret reference into its value.
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// SSMParameterStoreClient defines an interface for AWS SSM client
type SSMParameterStoreClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SecretsManagerClient defines a minimal interface for AWS Secrets Manager
type SecretsManagerClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretResolver reads "ssm:/path" from Parameter Store (decrypted) and
// "secretsmanager:name" from Secrets Manager.
type AWSSecretResolver struct {
	ssm     SSMParameterStoreClient
	secrets SecretsManagerClient
}

func NewAWSSecretResolverWithClients(p SSMParameterStoreClient, s SecretsManagerClient) *AWSSecretResolver {
	return &AWSSecretResolver{ssm: p, secrets: s}
}

// NewAWSSecretResolver creates a resolver with default AWS config
func NewAWSSecretResolver(ctx context.Context) (*AWSSecretResolver, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewAWSSecretResolverWithClients(ssm.NewFromConfig(cfg), secretsmanager.NewFromConfig(cfg)), nil
}

func (r *AWSSecretResolver) Resolve(ctx context.Context, ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, ssmPrefix):
		return r.parameter(ctx, strings.TrimPrefix(ref, ssmPrefix))
	case strings.HasPrefix(ref, secretsManagerPrefix):
		return r.secret(ctx, strings.TrimPrefix(ref, secretsManagerPrefix))
	default:
		return ref, nil
	}
}

func (r *AWSSecretResolver) parameter(ctx context.Context, name string) (string, error) {
	logger.Infof("[SecretResolver] Retrieving parameter: %s", name)
	out, err := r.ssm.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("get parameter %s: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s has no value", name)
	}
	return *out.Parameter.Value, nil
}

func (r *AWSSecretResolver) secret(ctx context.Context, name string) (string, error) {
	logger.Infof("[SecretResolver] Retrieving secret: %s", name)
	out, err := r.secrets.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", name)
	}
	return *out.SecretString, nil
}

// IsSecretRef reports whether s names an external secret.
func IsSecretRef(s string) bool {
	return strings.HasPrefix(s, ssmPrefix) || strings.HasPrefix(s, secretsManagerPrefix)
}

// ResolveSecrets replaces every string field holding a secret reference.
func ResolveSecrets(ctx context.Context, cfg *Config, r SecretResolver) error {
	return resolveValue(ctx, reflect.ValueOf(cfg).Elem(), r)
}

func resolveValue(ctx context.Context, v reflect.Value, r SecretResolver) error {
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if !v.Type().Field(i).IsExported() {
				continue
			}
			if err := resolveValue(ctx, v.Field(i), r); err != nil {
				return err
			}
		}
	case reflect.String:
		if !IsSecretRef(v.String()) {
			return nil
		}
		val, err := r.Resolve(ctx, v.String())
		if err != nil {
			return err
		}
		v.SetString(val)
	}
	return nil
}
