package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ComUnity/voiceid-service/internal/models"
	"github.com/ComUnity/voiceid-service/internal/util"
)

type TelephonyConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// TelephonyClient places outbound recorded calls and sends text messages
// through the provider's REST API.
type TelephonyClient struct {
	api    jsonAPI
	tracer trace.Tracer
}

func NewTelephonyClient(cfg TelephonyConfig) *TelephonyClient {
	return &TelephonyClient{
		api:    newJSONAPI("telephony", cfg.BaseURL, cfg.APIKey, cfg.Timeout, cfg.HTTPClient),
		tracer: otel.Tracer("voiceid/telephony"),
	}
}

type placeCallRequest struct {
	To        string `json:"to"`
	From      string `json:"from,omitempty"`
	ScriptURL string `json:"script_url"`
	Record    bool   `json:"record"`
}

type placeCallResponse struct {
	CallID string `json:"call_id"`
}

// PlaceCall implements service.CallProvider.
func (c *TelephonyClient) PlaceCall(ctx context.Context, req models.CallRequest) (string, error) {
	ctx, span := c.tracer.Start(ctx, "telephony.place_call",
		trace.WithAttributes(attribute.String("phone.masked", util.MaskPhone(req.To))))
	defer span.End()

	var out placeCallResponse
	err := c.api.do(ctx, http.MethodPost, "/v1/calls", placeCallRequest{
		To:        req.To,
		From:      req.From,
		ScriptURL: req.ScriptURL,
		Record:    req.Record,
	}, &out)
	if err == nil && out.CallID == "" {
		err = errors.New("telephony response missing call_id")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "place call failed")
		return "", err
	}
	span.SetAttributes(attribute.String("call.id", out.CallID))
	return out.CallID, nil
}

// CancelCall implements service.CallProvider. Cancelling an unknown call is not an error.
func (c *TelephonyClient) CancelCall(ctx context.Context, callID string) error {
	ctx, span := c.tracer.Start(ctx, "telephony.cancel_call", trace.WithAttributes(attribute.String("call.id", callID)))
	defer span.End()

	err := c.api.do(ctx, http.MethodDelete, "/v1/calls/"+url.PathEscape(callID), nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancel call failed")
		return fmt.Errorf("cancel call %s: %w", callID, err)
	}
	return nil
}

type sendMessageRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// Send implements service.Notifier.
func (c *TelephonyClient) Send(ctx context.Context, phone, message string) error {
	ctx, span := c.tracer.Start(ctx, "telephony.send_message")
	defer span.End()

	if err := c.api.do(ctx, http.MethodPost, "/v1/messages", sendMessageRequest{To: phone, Body: message}, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send message failed")
		return err
	}
	return nil
}
