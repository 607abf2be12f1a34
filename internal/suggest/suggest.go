// Package suggest maps the latest AI reply to three follow-up prompts.
package suggest

import "strings"

type topic struct {
	name      string
	keywords  []string
	questions [3]string
}

// DefaultQuestions are returned when no topic matches.
var DefaultQuestions = [3]string{
	"Can you please generate a 2 mins short meditation session for physical relief?",
	"Please generate a 5 mins long meditation script to address physical and energetic healing!",
	"Please generate a long 10 mins meditation script for me to address the root cause of my issue discussed and resolve it!",
}

// topics are checked in order; the first match wins.
var topics = []topic{
	{
		name:     "mindfulness",
		keywords: []string{"meditat", "mindful", "breath", "relax"},
		questions: [3]string{
			"Can you please generate a 2 mins short meditation session for deeper mindfulness?",
			"Please generate a 5 mins long meditation script for enhanced awareness and presence!",
			"Please generate a long 10 mins meditation script to establish a profound meditation practice!",
		},
	},
	{
		name:     "stress",
		keywords: []string{"stress", "anxiet", "worry", "overwhelm"},
		questions: [3]string{
			"Can you please generate a 2 mins short meditation session for immediate stress relief?",
			"Please generate a 5 mins long meditation script for anxiety management and calm!",
			"Please generate a long 10 mins meditation script to transform stress patterns at the root level!",
		},
	},
	{
		name:     "sleep",
		keywords: []string{"sleep", "rest", "insomnia", "tired"},
		questions: [3]string{
			"Can you please generate a 2 mins short meditation session for better sleep preparation?",
			"Please generate a 5 mins long meditation script for deep relaxation before bed!",
			"Please generate a long 10 mins meditation script to resolve sleep issues completely!",
		},
	},
	{
		name:     "emotion",
		keywords: []string{"emotion", "anger", "sad", "upset", "frustrated"},
		questions: [3]string{
			"Can you please generate a 2 mins short meditation session for emotional balance?",
			"Please generate a 5 mins long meditation script for emotional healing and stability!",
			"Please generate a long 10 mins meditation script to transform emotional patterns at the core!",
		},
	},
	{
		name:     "pain",
		keywords: []string{"pain", "hurt", "tension", "headache", "body"},
		questions: [3]string{
			"Can you please generate a 2 mins short meditation session for physical relief?",
			"Please generate a 5 mins long meditation script for body healing and comfort!",
			"Please generate a long 10 mins meditation script to address physical and energetic healing!",
		},
	},
	{
		name:     "relationship",
		keywords: []string{"relationship", "communication", "conflict", "family", "partner"},
		questions: [3]string{
			"Can you please generate a 2 mins short meditation session for relationship harmony?",
			"Please generate a 5 mins long meditation script for heart-centered communication!",
			"Please generate a long 10 mins meditation script to heal relationship patterns and create deeper connection!",
		},
	},
	{
		name:     "work",
		keywords: []string{"work", "productiv", "focus", "career", "job"},
		questions: [3]string{
			"Can you please generate a 2 mins short meditation session for work clarity and focus?",
			"Please generate a 5 mins long meditation script for enhanced productivity and purpose!",
			"Please generate a long 10 mins meditation script to align with your highest career path!",
		},
	},
	{
		name:     "self-care",
		keywords: []string{"self-care", "wellness", "health", "confidence", "self-worth"},
		questions: [3]string{
			"Can you please generate a 2 mins short meditation session for self-love and acceptance?",
			"Please generate a 5 mins long meditation script for inner confidence and worth!",
			"Please generate a long 10 mins meditation script to cultivate deep self-acceptance and empowerment!",
		},
	},
}

// Generate returns exactly three suggested prompts for the given reply.
// It is deterministic and has no side effects.
func Generate(lastResponse string) []string {
	q := questionsFor(lastResponse)
	return []string{q[0], q[1], q[2]}
}

// Topic returns the name of the matched topic, or "default".
func Topic(lastResponse string) string {
	if t := match(lastResponse); t != nil {
		return t.name
	}
	return "default"
}

func questionsFor(text string) [3]string {
	if t := match(text); t != nil {
		return t.questions
	}
	return DefaultQuestions
}

func match(text string) *topic {
	lower := strings.ToLower(text)
	for i := range topics {
		for _, kw := range topics[i].keywords {
			if strings.Contains(lower, kw) {
				return &topics[i]
			}
		}
	}
	return nil
}
