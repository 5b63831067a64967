package service

import (
	"github.com/ComUnity/voiceid-service/internal/models"
)

// Script holds the prompt text a voice script interpreter renders for a call.
// The orchestrator supplies parameters only; rendering belongs to the provider.
type Script struct {
	SessionID        string              `json:"session_id"`
	Kind             models.WorkflowKind `json:"kind,omitempty"`
	Greeting         string              `json:"greeting"`
	Instruction      string              `json:"instruction,omitempty"`
	RecordPrompt     string              `json:"record_prompt,omitempty"`
	MaxRecordSeconds int                 `json:"max_record_seconds,omitempty"`
	Record           bool                `json:"record"`
	Apology          string              `json:"apology"`
	Hangup           bool                `json:"hangup"`
}

const (
	apologyText = "We're sorry, we could not complete your request right now. Please try again later. Goodbye."
	lockoutText = "For your security, voice verification for this number is temporarily locked. Please try again later. Goodbye."
)

// ScriptFor returns the prompt sequence for a session of the given kind.
func ScriptFor(kind models.WorkflowKind, sessionID string) Script {
	switch kind {
	case models.WorkflowEnrollment:
		return Script{
			SessionID:        sessionID,
			Kind:             kind,
			Greeting:         "Welcome. We'll now set up voice verification for this number.",
			Instruction:      "After the tone, please say: My voice is my password, verify me. Speak naturally.",
			RecordPrompt:     "Recording now. Press the pound key when you are done.",
			MaxRecordSeconds: 15,
			Record:           true,
			Apology:          apologyText,
		}
	case models.WorkflowVerification:
		return Script{
			SessionID:        sessionID,
			Kind:             kind,
			Greeting:         "Hello. We need to confirm your identity before continuing.",
			Instruction:      "After the tone, please say your passphrase followed by the code you hear.",
			RecordPrompt:     "Recording now. Press the pound key when you are done.",
			MaxRecordSeconds: 10,
			Record:           true,
			Apology:          apologyText,
		}
	default:
		return ApologyScript(sessionID)
	}
}

// ApologyScript ends a call that cannot continue.
func ApologyScript(sessionID string) Script {
	return Script{SessionID: sessionID, Greeting: apologyText, Apology: apologyText, Hangup: true}
}

// LockoutScript ends a call for a locked-out number.
func LockoutScript(sessionID string) Script {
	return Script{SessionID: sessionID, Greeting: lockoutText, Apology: lockoutText, Hangup: true}
}

// OutcomeMessage is what the caller hears once a recording has been evaluated.
func OutcomeMessage(o Outcome) string {
	switch o {
	case OutcomeSuccess:
		return "Thank you. Your identity has been confirmed. Goodbye."
	case OutcomeFailure:
		return "We could not confirm your identity. Please try again. Goodbye."
	case OutcomeLockedOut:
		return lockoutText
	default:
		return apologyText
	}
}
