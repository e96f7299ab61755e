package claim

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ABeGood/reservation-pl/internal/domain"
)

// Outcome is the interpretation of a submission response.
//
// The zero value is OutcomeAmbiguous so that a classifier which forgets to
// decide never produces a success.
type Outcome int

const (
	OutcomeAmbiguous Outcome = iota
	OutcomeSuccess
	OutcomeRejected
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRejected:
		return "rejected"
	default:
		return "ambiguous"
	}
}

// Verdict is what a [Classifier] concluded about a response.
type Verdict struct {
	Outcome Outcome

	// Code is the registration code found on a success page, if any.
	Code string

	// Reason is a short human-readable explanation.
	Reason string
}

// Classifier maps a submission response to a [Verdict].
//
// Classifiers should be pure. They are called inside a panic recovery
// boundary: a panicking classifier yields an ambiguous verdict.
type Classifier func(resp domain.SubmitResponse) Verdict

// HTTPStatusClassifier decides from the status code alone. 4xx responses are
// rejections, 5xx are ambiguous because the source may or may not have
// stored the reservation, and 2xx are left to body classifiers.
var HTTPStatusClassifier Classifier = func(resp domain.SubmitResponse) Verdict {
	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return Verdict{Outcome: OutcomeRejected, Reason: fmt.Sprintf("http status %d", resp.StatusCode)}
	case resp.StatusCode >= 500:
		return Verdict{Reason: fmt.Sprintf("http status %d", resp.StatusCode)}
	default:
		return Verdict{}
	}
}

// ContainsClassifier returns a [Classifier] that yields outcome when the body
// contains any of the phrases (case-insensitive). A success verdict also
// requires a 2xx status code.
func ContainsClassifier(outcome Outcome, phrases ...string) Classifier {
	lowered := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = strings.TrimSpace(p); p != "" {
			lowered = append(lowered, strings.ToLower(p))
		}
	}

	return func(resp domain.SubmitResponse) Verdict {
		if outcome == OutcomeSuccess && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
			return Verdict{}
		}
		body := strings.ToLower(string(resp.Body))
		for _, p := range lowered {
			if strings.Contains(body, p) {
				return Verdict{Outcome: outcome, Reason: fmt.Sprintf("matched %q", p)}
			}
		}
		return Verdict{}
	}
}

// CodeClassifier returns a [Classifier] that yields success with the first
// capture group of pattern as the registration code. The pattern must have
// one capture group.
func CodeClassifier(pattern string) (Classifier, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("code pattern %q has no capture group", pattern)
	}

	return func(resp domain.SubmitResponse) Verdict {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return Verdict{}
		}
		m := re.FindSubmatch(resp.Body)
		if len(m) < 2 || len(m[1]) == 0 {
			return Verdict{}
		}
		return Verdict{Outcome: OutcomeSuccess, Code: string(m[1]), Reason: "registration code found"}
	}, nil
}

// MustCodeClassifier is like [CodeClassifier] but panics on a bad pattern.
func MustCodeClassifier(pattern string) Classifier {
	c, err := CodeClassifier(pattern)
	if err != nil {
		panic("claim: invalid code pattern: " + err.Error())
	}
	return c
}

// FirstMatch tries classifiers in order and returns the first verdict that
// is not ambiguous. The reason of the first ambiguous verdict with a reason
// is kept for logging.
func FirstMatch(classifiers ...Classifier) Classifier {
	return func(resp domain.SubmitResponse) Verdict {
		var fallback Verdict
		for _, c := range classifiers {
			v := c(resp)
			if v.Outcome != OutcomeAmbiguous {
				return v
			}
			if fallback.Reason == "" {
				fallback.Reason = v.Reason
			}
		}
		if fallback.Reason == "" {
			fallback.Reason = "no known marker in response"
		}
		return fallback
	}
}

// PhraseClassifier builds the usual classifier for an HTML booking site:
// status code first, then rejection phrases, then the registration code
// pattern, then success phrases. Rejections are checked before successes so
// that a page carrying both is never taken as a success.
func PhraseClassifier(success, rejection []string, codePattern string) (Classifier, error) {
	chain := []Classifier{
		HTTPStatusClassifier,
		ContainsClassifier(OutcomeRejected, rejection...),
	}
	if codePattern != "" {
		code, err := CodeClassifier(codePattern)
		if err != nil {
			return nil, err
		}
		chain = append(chain, code)
	}
	chain = append(chain, ContainsClassifier(OutcomeSuccess, success...))
	return FirstMatch(chain...), nil
}
