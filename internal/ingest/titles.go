package ingest

import "fmt"

// Agent identifiers with special roles in the pipeline.
const (
	// AgentReportComposer is the terminal agent whose output replaces the
	// streamed draft instead of extending it.
	AgentReportComposer = "report_composer_with_citations"

	AgentSectionResearcher      = "section_researcher"
	AgentEnhancedSearchExecutor = "enhanced_search_executor"
)

// FinalReportLabel is the display label a message takes once the final
// report lands.
const FinalReportLabel = "Research Report"

// citationAgents are the only agents whose state deltas contribute to the
// website/source counter.
var citationAgents = map[string]bool{
	AgentSectionResearcher:      true,
	AgentEnhancedSearchExecutor: true,
}

// countsSources reports whether the given agent's url_to_short_id deltas
// feed the source counter.
func countsSources(agent string) bool {
	return citationAgents[agent]
}

// titles maps internal agent identifiers to display titles. The set is
// closed; anything else falls through to the generic label.
var titles = map[string]string{
	"main_orchestrator_agent":     "Main Orchestrator",
	"auto_optimization_agent":     "Optimization Engine",
	"campaign_orchestrator_agent": "Campaign Manager",
	"analytics_agent":             "Analytics Engine",
	"ad_creative_agent":           "Creative Generator",
	"google_ads":                  "Google Ads Engine",
	"google ads":                  "Google Ads Engine",
	"meta_ads":                    "Meta Ads Engine",
	"meta ads":                    "Meta Ads Engine",
	"tiktok_ads":                  "TikTok Ads Engine",
	"tiktok ads":                  "TikTok Ads Engine",
	"IMAGE_GENERATOR":             "Image Generator",

	"plan_generator":            "Planning Strategy",
	"section_planner":           "Structuring Report",
	"section_researcher":        "Initial Web Research",
	"research_evaluator":        "Quality Evaluation",
	"EscalationChecker":         "Quality Check",
	"enhanced_search_executor":  "Enhanced Web Research",
	"research_pipeline":         "Research Pipeline",
	"iterative_refinement_loop": "Refinement",
	"interactive_planner_agent": "Interactive Planning",
	"root_agent":                "Interactive Planning",
}

// TitleFor returns the display title for an agent identifier.
func TitleFor(agent string) string {
	if title, ok := titles[agent]; ok {
		return title
	}
	if agent == "" {
		return "Processing..."
	}
	return fmt.Sprintf("Processing (%s)", agent)
}

// DisplayLabel returns the label shown next to an AI message: the final
// report label once the composer's output has landed, the agent's title
// otherwise.
func DisplayLabel(agent string, finalReport bool) string {
	if finalReport {
		return FinalReportLabel
	}
	return TitleFor(agent)
}
