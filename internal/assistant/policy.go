package assistant

import (
	"strings"
	"unicode"

	"github.com/samber/lo"
	"github.com/suPer8Hu/polylog/internal/chat"
)

// Rule names the policy branch that produced a verdict.
type Rule string

const (
	RuleMention        Rule = "mention"
	RuleDomination     Rule = "anti_domination"
	RuleQuestion       Rule = "question"
	RuleGreeting       Rule = "greeting"
	RuleGreetingRepeat Rule = "greeting_repeat"
	RuleLull           Rule = "lull"
	RuleEngagement     Rule = "engagement"
)

type Verdict struct {
	Respond bool
	Rule    Rule
}

var (
	DefaultMentionTriggers = []string{"@ai", "@assistant", "hey ai", "ok ai", "ask ai", "ai assistant"}
	DefaultGreetings       = []string{"hi", "hello", "hey", "good morning", "good afternoon", "good evening"}
	DefaultGreetingWords   = []string{"hello", "hi", "hey", "good"}
)

// Policy decides whether the automated participant speaks. It holds no
// mutable state and is safe for concurrent use.
type Policy struct {
	MentionTriggers []string
	Greetings       []string
	GreetingWords   []string

	// Window is how many trailing events the repetition rules inspect.
	Window int

	// EngagementThreshold out of 10 is the sampled response rate.
	EngagementThreshold uint32
}

func NewPolicy(triggers []string) *Policy {
	triggers = lo.FilterMap(triggers, func(s string, _ int) (string, bool) {
		s = strings.ToLower(strings.TrimSpace(s))
		return s, s != ""
	})
	if len(triggers) == 0 {
		triggers = DefaultMentionTriggers
	}
	return &Policy{
		MentionTriggers:     triggers,
		Greetings:           DefaultGreetings,
		GreetingWords:       DefaultGreetingWords,
		Window:              3,
		EngagementThreshold: 2,
	}
}

func (p *Policy) ShouldRespond(text, authorName string, recent []chat.Event) bool {
	return p.Evaluate(text, authorName, recent).Respond
}

// Evaluate applies the rules in priority order; the first match wins.
// recent holds the room's prior events, oldest first.
func (p *Policy) Evaluate(text, authorName string, recent []chat.Event) Verdict {
	lower := strings.ToLower(strings.TrimSpace(text))

	if lo.SomeBy(p.MentionTriggers, func(t string) bool { return strings.Contains(lower, t) }) {
		return Verdict{Respond: true, Rule: RuleMention}
	}

	window := recent
	if len(window) > p.Window {
		window = window[len(window)-p.Window:]
	}
	aiEvents := lo.Filter(window, func(e chat.Event, _ int) bool { return e.IsAIMessage })

	if lo.Contains(p.Greetings, lower) {
		greeted := lo.SomeBy(aiEvents, func(e chat.Event) bool { return p.hasGreetingWord(e.Content) })
		if greeted {
			return Verdict{Respond: false, Rule: RuleGreetingRepeat}
		}
		return Verdict{Respond: true, Rule: RuleGreeting}
	}

	// two recent AI events outrank a question
	if len(aiEvents) >= 2 {
		return Verdict{Respond: false, Rule: RuleDomination}
	}

	if strings.Contains(text, "?") {
		return Verdict{Respond: true, Rule: RuleQuestion}
	}

	if len(aiEvents) == 0 && len(recent) >= 2 {
		return Verdict{Respond: true, Rule: RuleLull}
	}

	return Verdict{
		Respond: inputHash(text, authorName)%10 < p.EngagementThreshold,
		Rule:    RuleEngagement,
	}
}

func (p *Policy) hasGreetingWord(s string) bool {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	return lo.SomeBy(words, func(w string) bool { return lo.Contains(p.GreetingWords, w) })
}
