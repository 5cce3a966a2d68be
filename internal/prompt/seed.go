package prompt

import (
	"github.com/peermock/peermock/internal/domain"
)

// DefaultPrompts is the built-in reference set, loaded on startup when the
// prompts table has no row for the ID yet. Deployments can extend the table
// directly; seeding never overwrites.
func DefaultPrompts() []*domain.Prompt {
	return []*domain.Prompt{
		{ID: "behavioral-001", Category: "behavioral", Difficulty: "easy", Text: "Tell me about a time you disagreed with a teammate. How did you resolve it?"},
		{ID: "behavioral-002", Category: "behavioral", Difficulty: "easy", Text: "Describe a project you are proud of and your role in it."},
		{ID: "behavioral-003", Category: "behavioral", Difficulty: "medium", Text: "Tell me about a time you had to deliver with incomplete requirements."},
		{ID: "behavioral-004", Category: "behavioral", Difficulty: "medium", Text: "Describe a situation where you received difficult feedback. What did you change?"},
		{ID: "behavioral-005", Category: "behavioral", Difficulty: "hard", Text: "Tell me about your biggest professional failure and what it taught you."},
		{ID: "system-design-001", Category: "system-design", Difficulty: "medium", Text: "Design a URL shortening service. Walk through storage, redirects, and scale."},
		{ID: "system-design-002", Category: "system-design", Difficulty: "medium", Text: "Design a rate limiter for a public API. Discuss algorithms and trade-offs."},
		{ID: "system-design-003", Category: "system-design", Difficulty: "hard", Text: "Design a chat system supporting millions of concurrent users."},
		{ID: "system-design-004", Category: "system-design", Difficulty: "hard", Text: "Design a news feed with ranking, fan-out, and cache invalidation."},
		{ID: "coding-001", Category: "coding", Difficulty: "easy", Text: "Given an array of integers, return indices of two numbers adding to a target."},
		{ID: "coding-002", Category: "coding", Difficulty: "medium", Text: "Implement an LRU cache with O(1) get and put."},
		{ID: "coding-003", Category: "coding", Difficulty: "medium", Text: "Find the longest substring without repeating characters."},
		{ID: "coding-004", Category: "coding", Difficulty: "hard", Text: "Merge k sorted linked lists and analyze the complexity of your approach."},
		{ID: "communication-001", Category: "communication", Difficulty: "easy", Text: "Explain a technical concept you know well to a non-technical audience."},
		{ID: "communication-002", Category: "communication", Difficulty: "medium", Text: "Walk through how you would write a design doc for a new feature."},
	}
}
