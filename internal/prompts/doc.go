// Package prompts holds the text Kyle sends to models and the fixed
// messages it sends to users.
//
// Prompt text is Go code rather than config because the loop depends on
// its shape: templates take their dynamic parts as arguments, live next
// to their tests, and change without touching the agent loop.
//
// Convention: one file per prompt family, each with an exported
// function that accepts the dynamic parts and returns the final string.
package prompts
