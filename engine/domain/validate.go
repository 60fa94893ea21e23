package domain

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Injection patterns — fragments that should never appear in message content
// destined for a Cypher MERGE or a shell-adjacent sink.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(DROP|DELETE|INSERT|UPDATE|ALTER|EXEC|UNION)\b.*\b(TABLE|FROM|INTO|SELECT|SET)\b`),
	regexp.MustCompile(`(?i)(--|;)\s*(DROP|DELETE|SELECT)`),
	regexp.MustCompile(`(?i)\$\{.*\}`),            // template injection
	regexp.MustCompile(`(?i)\{\s*"\$[a-z]+"\s*:`), // NoSQL operator injection
}

// Profanity word list (lowercase, basic set — extend as needed).
var profanityWords = map[string]bool{
	"fuck": true, "shit": true, "ass": true, "bitch": true,
	"damn": true, "cunt": true, "dick": true, "piss": true,
}

// domainNameRe restricts domain names (e.g. "coding", "prose") to a safe,
// predictable charset since they're interpolated into Cypher property filters.
var domainNameRe = regexp.MustCompile(`^[a-zA-Z0-9_\- ]{1,64}$`)

var validRoles = map[string]bool{
	"user": true, "assistant": true, "system": true,
}

// ValidateMessage checks a Message before it enters the working context.
func ValidateMessage(m Message) error {
	if !validRoles[m.Role] {
		return NewValidationError("role", m.Role, ErrInvalidRole)
	}
	if err := validateText(m.Content); err != nil {
		return err
	}
	return nil
}

// ValidateOffloadJob checks an OffloadJob before it is enqueued.
func ValidateOffloadJob(job OffloadJob) error {
	if strings.TrimSpace(job.JobID) == "" {
		return NewValidationError("job_id", job.JobID, ErrEmptyJobID)
	}
	if strings.TrimSpace(job.ChunkText) == "" {
		return NewValidationError("chunk_text", job.ChunkText, ErrEmptyChunkText)
	}
	return nil
}

// ValidateDomainName checks a domain filter key (e.g. "coding", "prose").
func ValidateDomainName(domain string) error {
	if !domainNameRe.MatchString(domain) {
		return NewValidationError("domain", domain, ErrInvalidDomain)
	}
	return nil
}

// ValidateStateType checks a state type string against the recognised set.
func ValidateStateType(t StateType) error {
	if !ValidStateTypes[t] {
		return NewValidationError("type", string(t), ErrInvalidStateType)
	}
	return nil
}

func validateText(text string) error {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) == 0 {
		return NewValidationError("content", text, ErrEmptyContent)
	}

	for _, pat := range injectionPatterns {
		if pat.MatchString(trimmed) {
			return NewValidationError("content", trimmed, ErrContentInjection)
		}
	}

	lower := strings.ToLower(trimmed)
	for _, word := range strings.Fields(lower) {
		cleaned := strings.Trim(word, ".,!?;:'\"()-")
		if profanityWords[cleaned] {
			return NewValidationError("content", cleaned, ErrContentProfanity)
		}
	}
	return nil
}
