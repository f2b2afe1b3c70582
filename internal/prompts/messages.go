package prompts

// Apology is the only failure text a user ever sees.
const Apology = "Alas, a thing has gone wrong. Please do make another attempt at a later date (or not - up to you)."

// RateLimited replaces Apology when the model provider answered 429.
const RateLimited = "Whoa there, I'm being rate limited by the AI provider. Please try again in a few moments."

// EmptyResponseFallback is sent when a turn ends with no text and no
// blocks, so the user never gets silence.
const EmptyResponseFallback = "I looked into that but didn't come up with anything to say. Could you try rephrasing?"

// StepBudgetExhausted closes a turn that ran out of tool rounds before
// the model wrote an answer.
const StepBudgetExhausted = "I ran out of steps before I could finish that one. Ask me again and I'll pick up where I left off."

// EmptyResponseNudge is injected once when the model answers a tool
// round with neither text nor further tool calls.
const EmptyResponseNudge = "You executed tool calls but did not provide a response to the user. Please respond now."
