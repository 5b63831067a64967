package config

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from YAML and environment variables. When
// resolver is non-nil, ssm: and secretsmanager: references are resolved.
func LoadConfig(ctx context.Context, path string, resolver SecretResolver) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	overrideWithEnv(reflect.ValueOf(cfg).Elem())
	cfg.ApplyDefaults()

	if resolver != nil {
		if err := ResolveSecrets(ctx, cfg, resolver); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// overrideWithEnv walks nested structs and applies `env` tagged variables.
func overrideWithEnv(v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)
		if !field.IsExported() {
			continue
		}
		if fieldVal.Kind() == reflect.Struct {
			overrideWithEnv(fieldVal)
			continue
		}

		envKey := field.Tag.Get("env")
		if envKey == "" {
			continue
		}
		envValue, exists := os.LookupEnv(envKey)
		if !exists {
			continue
		}

		switch {
		case fieldVal.Type() == durationType:
			if d, err := time.ParseDuration(envValue); err == nil {
				fieldVal.SetInt(int64(d))
			}
		case fieldVal.Kind() == reflect.String:
			fieldVal.SetString(envValue)
		case fieldVal.Kind() == reflect.Int:
			if intValue, err := strconv.Atoi(envValue); err == nil {
				fieldVal.SetInt(int64(intValue))
			}
		case fieldVal.Kind() == reflect.Float64:
			if f, err := strconv.ParseFloat(envValue, 64); err == nil {
				fieldVal.SetFloat(f)
			}
		case fieldVal.Kind() == reflect.Bool:
			if boolValue, err := strconv.ParseBool(envValue); err == nil {
				fieldVal.SetBool(boolValue)
			}
		case fieldVal.Kind() == reflect.Slice && field.Type.Elem().Kind() == reflect.String:
			parts := strings.Split(envValue, ",")
			for j := range parts {
				parts[j] = strings.TrimSpace(parts[j])
			}
			fieldVal.Set(reflect.ValueOf(parts))
		}
	}
}
