package client

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type MatcherConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// MatcherClient talks to the voice biometrics engine. It derives templates from
// enrollment recordings and scores verification recordings against them.
type MatcherClient struct {
	api    jsonAPI
	tracer trace.Tracer
}

func NewMatcherClient(cfg MatcherConfig) *MatcherClient {
	return &MatcherClient{
		api:    newJSONAPI("matcher", cfg.BaseURL, cfg.APIKey, cfg.Timeout, cfg.HTTPClient),
		tracer: otel.Tracer("voiceid/matcher"),
	}
}

type templateRequest struct {
	AudioRef string `json:"audio_ref"`
}

type templateResponse struct {
	Template []byte `json:"template"`
}

// Generate implements service.TemplateGenerator.
func (c *MatcherClient) Generate(ctx context.Context, audioRef string) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "matcher.generate_template")
	defer span.End()

	var out templateResponse
	err := c.api.do(ctx, http.MethodPost, "/v1/templates", templateRequest{AudioRef: audioRef}, &out)
	if err == nil && len(out.Template) == 0 {
		err = errors.New("matcher returned an empty template")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate template failed")
		return nil, err
	}
	return out.Template, nil
}

type matchRequest struct {
	AudioRef string `json:"audio_ref"`
	Template []byte `json:"template"`
}

type matchResponse struct {
	Confidence *float64 `json:"confidence"`
}

// Match implements service.BiometricMatcher. Range checking of the confidence is
// left to the caller so an out-of-range answer is reported as such.
func (c *MatcherClient) Match(ctx context.Context, audioRef string, template []byte) (float64, error) {
	ctx, span := c.tracer.Start(ctx, "matcher.match")
	defer span.End()

	var out matchResponse
	err := c.api.do(ctx, http.MethodPost, "/v1/match", matchRequest{AudioRef: audioRef, Template: template}, &out)
	if err == nil && out.Confidence == nil {
		err = errors.New("matcher response missing confidence")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "match failed")
		return 0, err
	}
	span.SetAttributes(attribute.Float64("match.confidence", *out.Confidence))
	return *out.Confidence, nil
}
