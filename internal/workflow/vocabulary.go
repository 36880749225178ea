package workflow

import (
	"fmt"
	"strings"
)

// Vocabulary lists the tokens accepted at each input step.
// Matching trims whitespace and ignores case; the canonical token is what gets stored.
type Vocabulary struct {
	// Triggers gate the address prompt. Empty means the welcome goes straight to it.
	Triggers    []string
	Options     []string
	Affirmative []string
	Negative    []string
}

// DefaultVocabulary is the lookup bot's stock wording.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Triggers:    []string{"lookup"},
		Options:     []string{"brief", "balance"},
		Affirmative: []string{"yes", "y"},
		Negative:    []string{"no", "n"},
	}
}

func (v Vocabulary) validate() error {
	if len(v.Options) == 0 {
		return fmt.Errorf("vocabulary: at least one option is required")
	}
	if len(v.Affirmative) == 0 || len(v.Negative) == 0 {
		return fmt.Errorf("vocabulary: affirmative and negative tokens are required")
	}
	for _, a := range v.Affirmative {
		if _, ok := match(v.Negative, a); ok {
			return fmt.Errorf("vocabulary: %q is both affirmative and negative", a)
		}
	}
	return nil
}

func match(tokens []string, input string) (string, bool) {
	needle := strings.TrimSpace(input)
	for _, token := range tokens {
		if strings.EqualFold(strings.TrimSpace(token), needle) {
			return strings.ToLower(strings.TrimSpace(token)), true
		}
	}
	return "", false
}

func quoteList(tokens []string) string {
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = fmt.Sprintf("%q", strings.ToLower(t))
	}
	switch len(quoted) {
	case 0:
		return ""
	case 1:
		return quoted[0]
	}
	return strings.Join(quoted[:len(quoted)-1], ", ") + " or " + quoted[len(quoted)-1]
}
