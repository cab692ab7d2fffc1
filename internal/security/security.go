// Package security implements the Artifact Security Filter (C7): a
// read-only scan of step artifacts for secret-shaped and PII-shaped
// content, producing match counts without ever logging matched text.
package security

import (
	"encoding/json"
	"regexp"

	"github.com/broneotodak/ctk-orchestrator/internal/errs"
)

const (
	strictMaxBytes   = 1 * 1024 * 1024
	standardMaxBytes = 10 * 1024 * 1024
)

// Family names a regex bank. Findings are reported per family, never
// per match, and never include the matched substring.
type Family string

const (
	FamilySecretBearer     Family = "secret.bearer_token"
	FamilySecretAPIKey     Family = "secret.api_key"
	FamilySecretAWS        Family = "secret.aws_credentials"
	FamilySecretPrivateKey Family = "secret.private_key"
	FamilySecretPassword   Family = "secret.password_assignment"
	FamilySecretDBURL      Family = "secret.db_connection_string"

	FamilyPIINationalID Family = "pii.national_id"
	FamilyPIIPhone      Family = "pii.phone_number"
	FamilyPIIEmail      Family = "pii.email_address"
	FamilyPIICreditCard Family = "pii.credit_card"
	FamilyPIIDOB        Family = "pii.date_of_birth"
)

// secretPatterns is grounded directly on the teacher corpus's own
// credential-redaction bank: bearer/Authorization tokens, API keys,
// AWS access keys, PEM-style private key blocks, and inline password
// assignments, plus database connection URLs that embed a password.
var secretPatterns = map[Family]*regexp.Regexp{
	FamilySecretBearer:     regexp.MustCompile(`(?i)\b(bearer|authorization)\s*[:=]\s*\S+`),
	FamilySecretAPIKey:     regexp.MustCompile(`(?i)\b(api[_-]?key|apikey|x-api-key)\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,}`),
	FamilySecretAWS:        regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	FamilySecretPrivateKey: regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`),
	FamilySecretPassword:   regexp.MustCompile(`(?i)\bpassword\s*[:=]\s*['"]?\S+`),
	FamilySecretDBURL:      regexp.MustCompile(`(?i)\b(postgres(ql)?|mysql|mongodb(\+srv)?|redis|amqp)://[^\s:/@]+:[^\s/@]+@`),
}

// piiPatterns has no corpus precedent; authored fresh to match
// SPEC_FULL §4.7's required PII family list, in the same
// "one compiled regexp per family" shape as secretPatterns.
var piiPatterns = map[Family]*regexp.Regexp{
	FamilyPIINationalID: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	FamilyPIIPhone:      regexp.MustCompile(`\b(\+?\d{1,2}[\s.-]?)?\(?\d{3}\)?[\s.-]\d{3}[\s.-]\d{4}\b`),
	FamilyPIIEmail:      regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
	FamilyPIICreditCard: regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`),
	FamilyPIIDOB:        regexp.MustCompile(`\b(19|20)\d{2}[-/](0[1-9]|1[0-2])[-/](0[1-9]|[12]\d|3[01])\b`),
}

// Finding is a single family's match count for one artifact scan. The
// matched text itself is never retained.
type Finding struct {
	Family Family
	Count  int
}

// Report is the outcome of scanning one step's artifacts.
type Report struct {
	Findings []Finding
	Blocked  bool // true if the scan refused to complete (oversize, fail-closed)
	Reason   string
}

// Scan serializes artifacts deterministically and scans the result
// against every known family. strict selects the 1MiB ceiling instead
// of the 10MiB one; exceeding the ceiling fails closed rather than
// scanning a truncated prefix, since a partial scan could miss a
// secret sitting past the cut point.
func Scan(artifacts map[string]interface{}, strict bool) (Report, error) {
	const op = "security.Scan"

	data, err := deterministicMarshal(artifacts)
	if err != nil {
		return Report{}, errs.New(op, errs.KindSecurityViolation, err)
	}

	limit := standardMaxBytes
	if strict {
		limit = strictMaxBytes
	}
	if len(data) > limit {
		return Report{Blocked: true, Reason: "artifact payload exceeds scan size ceiling"}, nil
	}

	var findings []Finding
	for family, pattern := range secretPatterns {
		if n := len(pattern.FindAllIndex(data, -1)); n > 0 {
			findings = append(findings, Finding{Family: family, Count: n})
		}
	}
	for family, pattern := range piiPatterns {
		if n := len(pattern.FindAllIndex(data, -1)); n > 0 {
			findings = append(findings, Finding{Family: family, Count: n})
		}
	}

	return Report{Findings: findings}, nil
}

// HasSecretFinding reports whether any secret-shaped (as opposed to
// PII-shaped) family matched.
func HasSecretFinding(r Report) bool {
	for _, f := range r.Findings {
		if _, ok := secretPatterns[f.Family]; ok {
			return true
		}
	}
	return false
}

// deterministicMarshal serializes artifacts with sorted map keys so
// identical artifacts always scan identically regardless of Go's
// randomized map iteration order. encoding/json already sorts
// map[string]interface{} keys; this wrapper exists so the ordering
// guarantee is explicit and named at the call site rather than an
// implicit stdlib side effect future readers have to rediscover.
func deterministicMarshal(artifacts map[string]interface{}) ([]byte, error) {
	return json.Marshal(artifacts)
}
