package errortrack

import (
	"regexp"
	"strings"

	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
)

// Classification is what the tracker infers about an error.
type Classification struct {
	Category  Category
	Severity  Severity
	Retryable bool
	Hint      string
}

// Pattern maps messages matching Match to a classification.
type Pattern struct {
	Name  string
	Match *regexp.Regexp
	Classification
}

// DefaultPatterns returns the built-in message patterns, most specific
// first.
func DefaultPatterns() []Pattern {
	p := func(name, expr string, c Category, s Severity, retry bool, hint string) Pattern {
		return Pattern{Name: name, Match: regexp.MustCompile(`(?i)` + expr), Classification: Classification{c, s, retry, hint}}
	}
	return []Pattern{
		p("panic", `panic|nil pointer dereference|index out of range`, CategoryInternal, SeverityCritical, false, ""),
		p("out_of_memory", `out of memory|cannot allocate memory|\boom\b`, CategoryResource, SeverityFatal, false, "raise the memory limit or reduce batch size"),
		p("disk_full", `no space left on device|disk full`, CategoryResource, SeverityCritical, false, "free disk space"),
		p("rate_limit", `rate limit|too many requests|\b429\b|quota exceeded`, CategoryRateLimit, SeverityMedium, true, "back off and retry"),
		p("timeout", `timed? ?out|deadline exceeded`, CategoryTimeout, SeverityMedium, true, "retry with a longer timeout"),
		p("llm", `openai|anthropic|completion|model .* not found|context length`, CategoryLLM, SeverityHigh, false, ""),
		p("database", `sql|postgres|pgx|deadlock|duplicate key|relation .* does not exist`, CategoryDatabase, SeverityHigh, false, ""),
		p("network", `connection refused|connection reset|no such host|network is unreachable|broken pipe|\beof\b`, CategoryNetwork, SeverityHigh, true, "check that the dependency is reachable"),
		p("authentication", `unauthori[sz]ed|\b401\b|invalid token|token expired`, CategoryAuthentication, SeverityMedium, false, ""),
		p("authorization", `forbidden|\b403\b|permission denied|access denied`, CategoryAuthorization, SeverityMedium, false, ""),
		p("not_found", `not found|\b404\b|no such file`, CategoryNotFound, SeverityLow, false, ""),
		p("validation", `invalid|required|must be|malformed|cannot parse`, CategoryValidation, SeverityLow, false, ""),
	}
}

// byCode classifies platform errors by code category.
var byCode = map[string]Classification{
	"VAL":     {CategoryValidation, SeverityLow, false, ""},
	"AUTH":    {CategoryAuthentication, SeverityMedium, false, ""},
	"AUTHZ":   {CategoryAuthorization, SeverityMedium, false, ""},
	"NF":      {CategoryNotFound, SeverityLow, false, ""},
	"CONF":    {CategoryConflict, SeverityLow, false, ""},
	"INT":     {CategoryInternal, SeverityHigh, false, ""},
	"UNAVAIL": {CategoryNetwork, SeverityHigh, true, "check that the dependency is reachable"},
	"TIMEOUT": {CategoryTimeout, SeverityMedium, true, "retry with a longer timeout"},
	"TOOL":    {CategoryTool, SeverityMedium, false, ""},
	"SBX":     {CategorySandbox, SeverityHigh, false, "review the sandbox limits for this agent"},
	"RATE":    {CategoryRateLimit, SeverityMedium, true, "back off and retry"},
	"CANCEL":  {CategoryCancelled, SeverityLow, false, ""},
}

// byType classifies results that only carry an error type name.
var byType = map[string]string{
	sserr.TypeValidation:  "VAL",
	sserr.TypePermission:  "AUTHZ",
	sserr.TypeSandbox:     "SBX",
	sserr.TypeCancelled:   "CANCEL",
	sserr.TypeTimeout:     "TIMEOUT",
	sserr.TypeRateLimit:   "RATE",
	sserr.TypeNotFound:    "NF",
	sserr.TypeConflict:    "CONF",
	sserr.TypeUnavailable: "UNAVAIL",
	sserr.TypeInternal:    "INT",
}

func (t *Tracker) classify(r Report, msg, errType string) Classification {
	c, ok := classifyKnown(r.Err, errType)
	if !ok {
		c = Classification{Category: CategoryUnknown, Severity: SeverityMedium}
		for _, p := range t.patterns {
			if p.Match.MatchString(msg) {
				c = p.Classification
				break
			}
		}
	}
	if r.Category != "" {
		c.Category = r.Category
	}
	if r.Severity.Valid() {
		c.Severity = r.Severity
	}
	return c
}

func classifyKnown(err error, errType string) (Classification, bool) {
	if e, ok := sserr.AsError(err); ok {
		c, ok := byCode[e.Code.Category()]
		return c, ok
	}
	if errType == sserr.TypePanic {
		return Classification{Category: CategoryInternal, Severity: SeverityCritical}, true
	}
	if strings.HasPrefix(errType, sserr.TypeTool) {
		return byCode["TOOL"], true
	}
	if cat, ok := byType[errType]; ok {
		return byCode[cat], true
	}
	return Classification{}, false
}
