package extract

import (
	"regexp"
	"strings"
)

// RiskLevel classifies how likely an input is a prompt-injection attempt.
type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// rank orders risk levels for comparison.
func (r RiskLevel) rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether r is at or above the given level.
func (r RiskLevel) AtLeast(min RiskLevel) bool { return r.rank() >= min.rank() }

// SanitizeResult is the outcome of scanning one input.
type SanitizeResult struct {
	SanitizedText    string    `json:"sanitized_text"`
	RiskLevel        RiskLevel `json:"risk_level"`
	DetectedPatterns []string  `json:"detected_patterns,omitempty"`
	WasModified      bool      `json:"was_modified"`
}

// injectionFallback replaces text deemed too risky to include in a prompt.
const injectionFallback = "[content removed: possible prompt injection]"

type injectionPattern struct {
	name string
	re   *regexp.Regexp
	risk RiskLevel
}

var injectionPatterns = []injectionPattern{
	{"system_override", regexp.MustCompile(`(?i)(ignore|disregard|forget)\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|context)`), RiskCritical},
	{"role_hijack", regexp.MustCompile(`(?i)\byou\s+are\s+(now|no\s+longer)\b`), RiskHigh},
	{"boundary_injection", regexp.MustCompile(`\[INST\]|\[/INST\]|\[SYSTEM\]|<\|im_start\|>|<\|im_end\|>`), RiskHigh},
	{"markdown_boundary", regexp.MustCompile(`(?m)^###\s*(system|instruction)`), RiskMedium},
	{"jailbreak", regexp.MustCompile(`(?i)\b(DAN\s+mode|do\s+anything\s+now|developer\s+mode|jailbreak)\b`), RiskHigh},
	{"data_exfil", regexp.MustCompile(`(?i)(output|reveal|print|show|repeat)\s+(your\s+)?(system\s+prompt|instructions|initial\s+prompt)`), RiskCritical},
	{"role_line", regexp.MustCompile(`(?mi)^\s*(system|assistant)\s*:\s`), RiskMedium},
}

// invisible matches zero-width and directional-override characters used to
// hide injected text.
var invisible = regexp.MustCompile(`[\x{200B}\x{200C}\x{200D}\x{2060}\x{FEFF}\x{202A}-\x{202E}]`)

var roleLinePrefix = regexp.MustCompile(`(?mi)^(\s*)(system|assistant)(\s*:\s)`)

var boundaryTokens = strings.NewReplacer(
	"[INST]", "(INST)",
	"[/INST]", "(/INST)",
	"[SYSTEM]", "(SYSTEM)",
	"<|im_start|>", "(im_start)",
	"<|im_end|>", "(im_end)",
)

// Sanitize scans text for prompt-injection markers and returns a cleaned copy
// with a risk classification. It never fails: risk assessment is advisory and
// the policy decision belongs to the caller.
func Sanitize(text string) SanitizeResult {
	res := SanitizeResult{SanitizedText: text, RiskLevel: RiskNone}

	if invisible.MatchString(text) {
		res.DetectedPatterns = append(res.DetectedPatterns, "invisible_chars")
		if RiskLow.rank() > res.RiskLevel.rank() {
			res.RiskLevel = RiskLow
		}
	}
	for _, p := range injectionPatterns {
		if p.re.MatchString(text) {
			res.DetectedPatterns = append(res.DetectedPatterns, p.name)
			if p.risk.rank() > res.RiskLevel.rank() {
				res.RiskLevel = p.risk
			}
		}
	}

	cleaned := invisible.ReplaceAllString(text, "")
	cleaned = boundaryTokens.Replace(cleaned)
	cleaned = roleLinePrefix.ReplaceAllString(cleaned, "$1> $2$3")

	res.WasModified = cleaned != text
	res.SanitizedText = cleaned
	return res
}

// SanitizeForPrompt applies the inclusion policy: high and critical risk text
// is replaced with a fallback marker, everything else passes through after
// transformation.
func SanitizeForPrompt(text string) SanitizeResult {
	res := Sanitize(text)
	if res.RiskLevel.AtLeast(RiskHigh) {
		res.SanitizedText = injectionFallback
		res.WasModified = true
	}
	return res
}
