package prompts

import "fmt"

// StaticStatus is the thread status shown while a turn runs when
// generated statuses are disabled.
const StaticStatus = "is thinking..."

// StatusFallbacks are used when a generated status is unavailable.
var StatusFallbacks = []string{
	"is cooking...",
	"is brewing...",
	"is contemplating...",
	"is orchestrating...",
	"is pondering...",
}

// statusTemplate asks a small model for a playful status line. The
// single format verb is the user's message.
const statusTemplate = `Write a playful status line for a media library assistant that is
working on the request below.

Rules:
- Exactly the form: is <verb>ing...
- One to three words in total, a single line, no quotes.
- Family friendly. Prefer a verb that fits the request: fetching or
  summoning for media, scouring or spelunking for searches, grabbing or
  procuring for downloads, pondering when nothing else fits.
- Avoid dull verbs like working, processing or loading.

Request: %s`

// StatusPrompt returns the status generation prompt for a message.
func StatusPrompt(message string) string {
	return fmt.Sprintf(statusTemplate, message)
}
