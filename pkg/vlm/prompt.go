package vlm

import "strings"

// SimpleTestPrompt checks that the model can see images at all
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// DefaultPrompt asks for ranked breed guesses. %s is replaced with the allowed
// breed names.
const DefaultPrompt = `You are a dog breed classifier.

Look at the dog in the photo and return JSON only:
{
  "breeds": [
    {"breed": "string", "confidence": 0.0}
  ]
}

HARD RULES
- Pick breeds ONLY from this list, spelled exactly as written: %s
- Return at most 5 breeds, most likely first.
- confidence is a probability in [0,1]; the values should sum to at most 1.
- If there is no dog in the photo, return {"breeds": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

func breedList(names []string) string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return strings.Join(out, ", ")
}
