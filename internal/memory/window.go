// Package memory rebuilds the bounded conversation window from a transcript.
package memory

// DefaultPairs is the number of exchanges kept when no size is configured.
const DefaultPairs = 8

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of a persisted transcript.
type Turn struct {
	Role    Role
	Content string
}

// BuildWindow pairs each user turn with the assistant turn immediately after
// it and returns the last k pairs, flattened in order. Unpaired turns are
// dropped. The input slice is never modified.
func BuildWindow(turns []Turn, k int) []Turn {
	if k <= 0 || len(turns) < 2 {
		return nil
	}

	var pairs [][2]Turn
	for i := 0; i < len(turns)-1; {
		if turns[i].Role == RoleUser && turns[i+1].Role == RoleAssistant {
			pairs = append(pairs, [2]Turn{turns[i], turns[i+1]})
			i += 2
			continue
		}
		i++
	}

	if len(pairs) > k {
		pairs = pairs[len(pairs)-k:]
	}
	if len(pairs) == 0 {
		return nil
	}

	window := make([]Turn, 0, 2*len(pairs))
	for _, p := range pairs {
		window = append(window, p[0], p[1])
	}
	return window
}
