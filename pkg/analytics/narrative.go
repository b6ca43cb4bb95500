package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/StricklySoft/stricklysoft-analytics/pkg/agent"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/llm"
)

// ConfigLLMInsights toggles the narrative summary. It defaults to on when
// the agent has a language model.
const ConfigLLMInsights = "llm_insights"

// maxNarrativeData bounds the result data quoted in the prompt.
const maxNarrativeData = 4000

// addNarrative asks the language model to summarize out and attaches the
// answer as a "narrative" insight. Failures are logged and otherwise
// ignored: the structured result stands on its own.
func addNarrative(ctx context.Context, rc *agent.RunContext, out *agent.Result) {
	if !rc.HasLLM() || !rc.Config().Bool(ConfigLLMInsights, true) {
		return
	}
	data, err := json.Marshal(out.Data)
	if err != nil {
		rc.Logger().Warn("analytics: could not encode result for narrative", "error", err)
		return
	}
	quoted := string(data)
	if len(quoted) > maxNarrativeData {
		quoted = quoted[:maxNarrativeData] + "..."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Summary: %s\n", out.Message)
	for _, in := range out.Insights {
		fmt.Fprintf(&b, "- [%s] %s\n", in.Severity, in.Message)
	}
	fmt.Fprintf(&b, "Data: %s\n", quoted)
	b.WriteString("Write two or three sentences for a business reader.")

	resp, err := rc.Complete(ctx, []llm.Message{{Role: llm.RoleUser, Content: b.String()}})
	if err != nil {
		rc.Logger().Warn("analytics: narrative generation failed", "error", err)
		rc.Execution().AddReasoningStep("Narrative skipped: language model unavailable")
		return
	}
	if text := strings.TrimSpace(resp.Content); text != "" {
		out.AddInsight("narrative", text, SeverityInfo)
	}
}
