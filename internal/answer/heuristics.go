package answer

import (
	"regexp"
	"strings"

	"github.com/tbourn/chatdys-backend/internal/domain"
)

const maxSources = 3

var (
	medicalTerms       = []string{"syndrome", "symptoms", "treatment", "diagnosis", "medication", "therapy"}
	uncertaintyPhrases = []string{"i'm not sure", "might be", "possibly", "unclear"}
	conditionTerms     = []string{"pots", "dysautonomia", "long covid"}

	referencePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)according to (.+?)(?:\.|,|$)`),
		regexp.MustCompile(`(?i)research shows (.+?)(?:\.|,|$)`),
		regexp.MustCompile(`(?i)studies indicate (.+?)(?:\.|,|$)`),
		regexp.MustCompile(`(?im)([^.,\n]+?) guidelines`),
		regexp.MustCompile(`(?im)([^.,\n]+?) research`),
	}

	trustedSources = []domain.Source{
		{Title: "Dysautonomia International", URL: "https://www.dysautonomiainternational.org", Type: "organization"},
		{
			Title: "Mayo Clinic - POTS",
			URL:   "https://www.mayoclinic.org/diseases-conditions/postural-orthostatic-tachycardia-syndrome/symptoms-causes/syc-20361512",
			Type:  "medical_reference",
		},
	}
)

// Score estimates confidence (10..95) from surface features of an answer:
// length, use of medical vocabulary and hedging phrases.
func Score(answer string) int {
	score := 80
	switch n := len(answer); {
	case n > 500:
		score += 10
	case n < 100:
		score -= 20
	}

	low := strings.ToLower(answer)
	terms := 0
	for _, t := range medicalTerms {
		if strings.Contains(low, t) {
			terms++
		}
	}
	score += min(terms*2, 10)

	for _, p := range uncertaintyPhrases {
		if strings.Contains(low, p) {
			score -= 5
		}
	}
	return max(10, min(95, score))
}

// ExtractSources pulls cited references out of an answer and appends the
// standard patient organizations when a covered condition is mentioned. At
// most three sources are returned.
func ExtractSources(answer string) []domain.Source {
	var out []domain.Source
	seen := map[string]bool{}
	for _, re := range referencePatterns {
		for _, m := range re.FindAllStringSubmatch(answer, -1) {
			title := strings.TrimSpace(m[1])
			if len(title) <= 5 || seen[strings.ToLower(title)] {
				continue
			}
			seen[strings.ToLower(title)] = true
			out = append(out, domain.Source{Title: title, Type: "reference"})
		}
	}

	low := strings.ToLower(answer)
	for _, t := range conditionTerms {
		if strings.Contains(low, t) {
			out = append(out, trustedSources...)
			break
		}
	}
	if len(out) > maxSources {
		out = out[:maxSources]
	}
	return out
}
