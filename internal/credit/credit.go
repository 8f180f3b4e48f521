// Package credit implements scorecard-based credit triage with
// affordability checks and policy gating.
package credit

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Decision values for credit triage.
const (
	DecisionApprove = "approve"
	DecisionReview  = "review"
	DecisionDecline = "decline"
)

// Result is the output of a credit triage call.
type Result struct {
	Score           float64  `json:"score"`
	Decision        string   `json:"decision"`
	Rationale       string   `json:"rationale"`
	PolicyCitations []string `json:"policy_citations"`
	KeyFactors      []string `json:"key_factors"`
}

// Scorecard holds the score, band and contributing factors.
type Scorecard struct {
	Score        float64
	Band         domain.RiskBand
	Contributors []string
}

// PolicyDecision is the outcome of applying policy minimums.
type PolicyDecision struct {
	Override bool
	Reason   string
}

// Service performs credit triage.
type Service struct{}

// NewService creates a credit triage service.
func NewService() *Service {
	return &Service{}
}

// ComputeDTI returns the debt-to-income ratio. Non-positive income is
// treated as fully leveraged.
func ComputeDTI(income, liabilities float64) float64 {
	if income <= 0 {
		return 1.0
	}
	return liabilities / income
}

// CalculateScorecard starts at 1.0 and deducts for adverse factors.
// requestedLimitRatio < 0 means no requested limit was supplied.
func CalculateScorecard(dti float64, delinquencies int, requestedLimitRatio float64) Scorecard {
	score := 1.0
	var contributors []string

	if dti >= 0.5 {
		score -= 0.45
		contributors = append(contributors, "DTI >= 50%")
	} else if dti >= 0.35 {
		score -= 0.25
		contributors = append(contributors, "DTI >= 35%")
	}

	if delinquencies >= 2 {
		score -= 0.35
		contributors = append(contributors, "2+ delinquencies")
	} else if delinquencies == 1 {
		score -= 0.2
		contributors = append(contributors, "1 delinquency")
	}

	if requestedLimitRatio > 0.5 {
		score -= 0.2
		contributors = append(contributors, "requested limit > 50% of income")
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	band := domain.BandLow
	if score >= 0.75 {
		band = domain.BandHigh
	} else if score >= 0.5 {
		band = domain.BandMedium
	}
	return Scorecard{Score: score, Band: band, Contributors: contributors}
}

// ApplyMinimums gates approvals on a minimum score and a maximum DTI.
func ApplyMinimums(score, dti float64) PolicyDecision {
	if score < 0.45 {
		return PolicyDecision{Override: true, Reason: "score below policy minimum"}
	}
	if dti > 0.6 {
		return PolicyDecision{Override: true, Reason: "DTI above allowed maximum"}
	}
	return PolicyDecision{}
}

// Triage scores a credit application and applies policy gating.
func (s *Service) Triage(app *domain.CreditApplication) Result {
	dti := ComputeDTI(app.Income, app.Liabilities)
	delinquencies := len(app.DelinquencyFlags)

	requestedLimitRatio := -1.0
	if app.RequestedLimit > 0 && app.Income > 0 {
		requestedLimitRatio = app.RequestedLimit / app.Income
	}

	sc := CalculateScorecard(dti, delinquencies, requestedLimitRatio)
	policy := ApplyMinimums(sc.Score, dti)

	decision := DecisionDecline
	if sc.Score >= 0.75 {
		decision = DecisionApprove
	} else if sc.Score >= 0.5 {
		decision = DecisionReview
	}
	if policy.Override && decision == DecisionApprove {
		decision = DecisionReview
	}

	keyFactors := sc.Contributors
	if len(keyFactors) == 0 {
		keyFactors = []string{"no adverse factors"}
	}
	if policy.Override && policy.Reason != "" {
		keyFactors = append(keyFactors, policy.Reason)
	}

	return Result{
		Score:           sc.Score,
		Decision:        decision,
		Rationale:       "Scorecard banding with affordability; policy gating applied.",
		PolicyCitations: []string{},
		KeyFactors:      keyFactors,
	}
}

// StressTestPayment computes a fixed-rate monthly payment for the given
// annual interest rate, term and principal.
func StressTestPayment(interestRate float64, termMonths int, principal float64) float64 {
	r := interestRate / 12.0
	n := termMonths
	if n < 1 {
		n = 1
	}
	if r == 0 {
		return principal / float64(n)
	}
	growth := math.Pow(1+r, float64(n))
	return principal * (r * growth) / (growth - 1)
}
