package main

import (
	"context"
	"crypto/sha256"

	"github.com/google/uuid"

	"github.com/ComUnity/voiceid-service/internal/models"
	"github.com/ComUnity/voiceid-service/internal/util"
	"github.com/ComUnity/voiceid-service/internal/util/logger"
)

// stubTelephony logs instead of dialing. Production config refuses to start without a provider.
type stubTelephony struct{}

func (stubTelephony) PlaceCall(_ context.Context, req models.CallRequest) (string, error) {
	id := "stub-" + uuid.NewString()
	logger.Infof("Stub telephony: calling %s, script %s, call %s", util.MaskPhone(req.To), req.ScriptURL, id)
	return id, nil
}

func (stubTelephony) CancelCall(_ context.Context, callID string) error {
	logger.Infof("Stub telephony: cancel %s", callID)
	return nil
}

func (stubTelephony) Send(_ context.Context, phone, message string) error {
	logger.Infof("Stub telephony: message to %s: %s", util.MaskPhone(phone), message)
	return nil
}

// stubMatcher treats the audio reference itself as the voice: a template is the
// hash of the enrollment reference and a match needs the same reference again.
type stubMatcher struct{}

func (stubMatcher) Generate(_ context.Context, audioRef string) ([]byte, error) {
	sum := sha256.Sum256([]byte(audioRef))
	return sum[:], nil
}

func (stubMatcher) Match(_ context.Context, audioRef string, template []byte) (float64, error) {
	sum := sha256.Sum256([]byte(audioRef))
	if string(sum[:]) == string(template) {
		return 0.99, nil
	}
	return 0.10, nil
}
