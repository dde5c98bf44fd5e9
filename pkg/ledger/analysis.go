package ledger

// AnalysisResult is the closed set of report payloads an analysis provider
// can return, one concrete shape per analysis type. Consumers switch over the
// concrete types instead of probing a dynamic payload.
type AnalysisResult interface {
	AnalysisKind() AnalysisType
	isAnalysisResult()
}

// AboutResult summarizes what a project is.
type AboutResult struct {
	Summary    string
	Category   string
	UseCase    string
	LaunchYear int
}

func (AboutResult) AnalysisKind() AnalysisType { return AnalysisAbout }
func (AboutResult) isAnalysisResult()          {}

// RoadmapMilestone is one planned or delivered item on a project roadmap.
type RoadmapMilestone struct {
	Quarter   string
	Title     string
	Completed bool
}

// RoadmapResult lists a project's milestones in order.
type RoadmapResult struct {
	Milestones []RoadmapMilestone
}

func (RoadmapResult) AnalysisKind() AnalysisType { return AnalysisRoadmap }
func (RoadmapResult) isAnalysisResult()          {}

// TokenAllocation is one slice of the token distribution.
type TokenAllocation struct {
	Label   string
	Percent float64
}

// TokenomicsResult describes supply and distribution.
type TokenomicsResult struct {
	TotalSupply       int64
	CirculatingSupply int64
	Distribution      []TokenAllocation
}

func (TokenomicsResult) AnalysisKind() AnalysisType { return AnalysisTokenomics }
func (TokenomicsResult) isAnalysisResult()          {}

// TeamMember is one listed project member.
type TeamMember struct {
	Name     string
	Role     string
	Verified bool
}

// TeamResult lists the project team.
type TeamResult struct {
	Members []TeamMember
}

func (TeamResult) AnalysisKind() AnalysisType { return AnalysisTeam }
func (TeamResult) isAnalysisResult()          {}

// SentimentResult scores community sentiment. Score is in [-1, 1];
// the share fields sum to 1.
type SentimentResult struct {
	Score         float64
	PositiveShare float64
	NeutralShare  float64
	NegativeShare float64
	SampleSize    int
	Summary       string
}

func (SentimentResult) AnalysisKind() AnalysisType { return AnalysisSentiment }
func (SentimentResult) isAnalysisResult()          {}
