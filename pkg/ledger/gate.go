package ledger

import (
	"context"
	"fmt"
)

// AnalysisType names one of the report kinds a project can be analyzed for.
type AnalysisType string

const (
	AnalysisAbout      AnalysisType = "about"
	AnalysisRoadmap    AnalysisType = "roadmap"
	AnalysisTokenomics AnalysisType = "tokenomics"
	AnalysisTeam       AnalysisType = "team"
	AnalysisSentiment  AnalysisType = "sentiment"
)

// Fixed price list per analysis type, in TEX credits.
var analysisCosts = map[AnalysisType]CreditAmount{
	AnalysisAbout:      15,
	AnalysisRoadmap:    20,
	AnalysisTokenomics: 25,
	AnalysisTeam:       30,
	AnalysisSentiment:  35,
}

// ParseAnalysisType validates an analysis type literal.
func ParseAnalysisType(raw string) (AnalysisType, error) {
	if _, ok := analysisCosts[AnalysisType(raw)]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAnalysisType, raw)
	}
	return AnalysisType(raw), nil
}

// String returns the type literal.
func (analysisType AnalysisType) String() string {
	return string(analysisType)
}

// AnalysisCost returns the fixed price for an analysis type.
func AnalysisCost(analysisType AnalysisType) (CreditAmount, error) {
	cost, ok := analysisCosts[analysisType]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownAnalysisType, analysisType)
	}
	return cost, nil
}

// AnalysisProvider is the external system that produces a report after the
// charge succeeds.
type AnalysisProvider interface {
	Analyze(ctx context.Context, projectID string, analysisType AnalysisType) (AnalysisResult, error)
}

// CostGate prices analyses and debits the account before the provider runs.
type CostGate struct {
	engine *Service
}

// NewCostGate wires a CostGate over the transaction engine.
func NewCostGate(engine *Service) (*CostGate, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: engine dependency is nil", ErrInvalidServiceConfig)
	}
	return &CostGate{engine: engine}, nil
}

// Charge debits the fixed cost for the analysis. On success the caller is
// authorized to invoke the provider; a later provider failure needs an
// explicit Refund, the gate never refunds on its own.
func (gate *CostGate) Charge(ctx context.Context, userID UserID, analysisType AnalysisType, projectID string, projectName string) (ApplyResult, error) {
	cost, err := AnalysisCost(analysisType)
	if err != nil {
		return ApplyResult{}, err
	}
	return gate.engine.Use(ctx, userID, cost, PurposeAnalyzeProject, TransactionDetails{
		ProjectID:   projectID,
		ProjectName: projectName,
		Notes:       fmt.Sprintf("%s analysis", analysisType),
	})
}

// Run charges and then invokes the provider. A provider error is returned
// alongside the completed charge so the caller can decide on a refund.
func (gate *CostGate) Run(ctx context.Context, userID UserID, analysisType AnalysisType, projectID string, projectName string, provider AnalysisProvider) (AnalysisResult, ApplyResult, error) {
	if provider == nil {
		return nil, ApplyResult{}, fmt.Errorf("%w: provider dependency is nil", ErrInvalidServiceConfig)
	}
	charge, err := gate.Charge(ctx, userID, analysisType, projectID, projectName)
	if err != nil {
		return nil, ApplyResult{}, err
	}
	result, err := provider.Analyze(ctx, projectID, analysisType)
	if err != nil {
		return nil, charge, fmt.Errorf("analysis provider: %w", err)
	}
	return result, charge, nil
}
