package service

import (
	"time"

	"github.com/ComUnity/voiceid-service/internal/models"
)

type RiskBand string

const (
	RiskLow    RiskBand = "LOW"
	RiskMedium RiskBand = "MEDIUM"
	RiskHigh   RiskBand = "HIGH"
)

const (
	maxRiskScore = 100

	largeAmount     = 5000.0
	veryLargeAmount = 10000.0

	earliestSafeHour = 6
	latestSafeHour   = 22
)

// Score applies the additive transaction risk policy and caps the total at 100.
// Both amount tiers and both type flags stack.
func Score(txType models.TransactionType, amount float64, hourOfDay int) int {
	score := 0
	if amount > largeAmount {
		score += 30
	}
	if amount > veryLargeAmount {
		score += 20
	}
	if txType.Includes(models.TxInternational) {
		score += 25
	}
	if txType.Includes(models.TxCrypto) {
		score += 35
	}
	if hourOfDay < earliestSafeHour || hourOfDay > latestSafeHour {
		score += 15
	}
	if score > maxRiskScore {
		score = maxRiskScore
	}
	return score
}

// BandFor maps a score to its display band. Bands never gate the workflow.
func BandFor(score int) RiskBand {
	switch {
	case score > 70:
		return RiskHigh
	case score > 40:
		return RiskMedium
	default:
		return RiskLow
	}
}

type RiskAssessment struct {
	Score int
	Band  RiskBand
}

// RiskScorer evaluates transactions at the wall-clock hour of a fixed timezone.
type RiskScorer struct {
	loc *time.Location
}

func NewRiskScorer(loc *time.Location) *RiskScorer {
	if loc == nil {
		loc = time.UTC
	}
	return &RiskScorer{loc: loc}
}

// Assess scores tx as if it happened at t.
func (r *RiskScorer) Assess(tx models.Transaction, t time.Time) RiskAssessment {
	s := Score(tx.Type, tx.Amount, t.In(r.loc).Hour())
	return RiskAssessment{Score: s, Band: BandFor(s)}
}
