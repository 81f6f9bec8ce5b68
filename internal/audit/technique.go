package audit

// techniqueMap maps blocking stages to MITRE ATLAS technique IDs so SIEM
// pipelines can group decision log entries by attack class. Stage labels
// match the policy engine's stage names on blocked verdicts.
//
// Redaction and operational events (config reload, oracle degrade) have
// no mapping: they are hygiene and operator actions, not attacks.
var techniqueMap = map[string]string{
	"length":   "AML.T0029", // Denial of ML Service (oversized input)
	"keyword":  "AML.T0051", // LLM Prompt Injection (direct)
	"semantic": "AML.T0054", // LLM Jailbreak (paraphrased restricted request)
}

// TechniqueForStage returns the MITRE ATLAS technique ID for a blocking
// stage. Returns an empty string if no mapping exists.
func TechniqueForStage(stage string) string {
	return techniqueMap[stage]
}
