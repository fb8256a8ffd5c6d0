// Package classifier asks a vision-capable chat model whether content was
// produced by AI.
//
// The model is instructed to answer with a JSON verdict:
//
//	{"confidence": 85, "isAI": true, "explanation": "...", "sources": ["..."]}
//
// ParseVerdict tolerates markdown code fences around the object. Answers that
// still fail to parse are re-requested with stricter instructions a bounded
// number of times before ErrUnparseable is returned.
//
// Usage:
//
//	c := classifier.NewOpenAIClient(cfg)
//	v, err := c.Classify(ctx, classifier.Content{Text: "..."})
package classifier
