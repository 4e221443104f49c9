package assistant

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

var gratitudeWords = []string{"thank", "thanks", "appreciate"}

// Fallback produces a canned reply when the generation capability fails.
// The category is picked by pattern and the variant by inputHash, so the
// same (message, name) pair always gets the same text.
func Fallback(message, userName string) string {
	lower := strings.ToLower(strings.TrimSpace(message))
	h := inputHash(message, userName)

	switch {
	case lo.Contains(DefaultGreetings, lower):
		variants := []string{
			"Hello %s! Good to see you in Polylog.",
			"Hey there, %s! How's your day going?",
			"Hi %s! Welcome to the conversation.",
			"Hello %s! What brings you here today?",
		}
		return fmt.Sprintf(variants[h%uint32(len(variants))], userName)

	case lo.SomeBy(gratitudeWords, func(w string) bool { return strings.Contains(lower, w) }):
		return fmt.Sprintf("You're very welcome, %s! I'm always here to help. What else can we work on together?", userName)

	case strings.Contains(message, "?"):
		return fmt.Sprintf("That's a great question, %s! While I don't have all the answers, I'm here to help you think through it. What specific aspect would you like to explore?", userName)

	case strings.Contains(lower, "polylog"):
		return fmt.Sprintf("Polylog is designed for collaborative conversations like this one, %s! It brings together multiple voices, humans and AI, in one seamless conversation.", userName)

	case len([]rune(message)) > 100:
		return fmt.Sprintf("I can see you've shared a lot of detail, %s. That's really helpful context! Let me know what specific aspect you'd like me to focus on.", userName)
	}

	variants := []string{
		"That's interesting, %s! Tell me more about what you're thinking.",
		"I hear you, %s. What would you like to explore further on this topic?",
		"Thanks for sharing that, %s. How can I help you with this?",
		"Good point, %s! What's your take on this?",
		"I appreciate you bringing this up, %s. What direction would you like to take this conversation?",
	}
	return fmt.Sprintf(variants[h%uint32(len(variants))], userName)
}
