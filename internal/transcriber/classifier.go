package transcriber

import "strings"

// Verdict is the classified outcome of a transcription call.
type Verdict int

const (
	Success Verdict = iota
	Failure
)

func (v Verdict) String() string {
	if v == Success {
		return "success"
	}
	return "failure"
}

// Sentinels are text prefixes that engines return in place of an error.
var Sentinels = []string{
	"Transcription error:",
	"Recognition failed:",
	"Speech recognition not available",
}

// Classifier decides whether an engine result is usable.
type Classifier func(text string, err error) Verdict

// PrefixClassifier fails results carrying an error or starting with any of
// prefixes.
func PrefixClassifier(prefixes ...string) Classifier {
	list := append([]string(nil), prefixes...)
	return func(text string, err error) Verdict {
		if err != nil {
			return Failure
		}
		for _, p := range list {
			if strings.HasPrefix(text, p) {
				return Failure
			}
		}
		return Success
	}
}

// DefaultClassifier applies Sentinels and also fails blank text, which
// could not be stored as a successful record.
func DefaultClassifier() Classifier {
	prefixed := PrefixClassifier(Sentinels...)
	return func(text string, err error) Verdict {
		if strings.TrimSpace(text) == "" {
			return Failure
		}
		return prefixed(text, err)
	}
}
