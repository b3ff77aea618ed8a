package agent

import (
	"regexp"
	"strings"
)

// affirmativePattern and negativePattern implement the plan node's
// confirmation short-circuit (spec.md §4.5): once a confirmation question
// has been asked, the next user message is matched against these before
// anything else.
var (
	affirmativePattern = regexp.MustCompile(`(?i)^\s*(да|yes|подтверждаю|confirm|ok|давай|yep|sure|go ahead)\b`)
	negativePattern    = regexp.MustCompile(`(?i)^\s*(нет|no|отмена|cancel|stop|not now)\b`)
)

func isAffirmative(text string) bool { return affirmativePattern.MatchString(strings.TrimSpace(text)) }
func isNegative(text string) bool    { return negativePattern.MatchString(strings.TrimSpace(text)) }
