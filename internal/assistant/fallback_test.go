package assistant

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFallback_Categories(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		contains string
	}{
		{"gratitude", "thanks a lot", "You're very welcome, alice!"},
		{"question", "how does this work?", "That's a great question, alice!"},
		{"product", "what is Polylog anyway", "Polylog is designed for collaborative conversations"},
		{"long", strings.Repeat("detail ", 20), "shared a lot of detail, alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Contains(t, Fallback(tt.message, "alice"), tt.contains)
		})
	}
}

func TestFallback_GreetingVariants(t *testing.T) {
	req := require.New(t)
	for _, g := range DefaultGreetings {
		reply := Fallback(g, "alice")
		req.Contains(reply, "alice")
		req.True(NewPolicy(nil).hasGreetingWord(reply), reply)
	}
}

func TestFallback_IsDeterministic(t *testing.T) {
	req := require.New(t)
	for _, msg := range []string{"hi", "ok then", "interesting", "Hello"} {
		req.Equal(Fallback(msg, "bob"), Fallback(msg, "bob"))
	}
	req.Contains(Fallback("just chatting", "carol"), "carol")
}
