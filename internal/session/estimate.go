package session

import "github.com/youruser/lexchat/internal/api"

// TokenEstimate is the approximate token footprint of the next send.
type TokenEstimate struct {
	Total   int `json:"total"`
	History int `json:"history"` // transcript so far
	Input   int `json:"input"`   // draft input text
}

// EstimateTokens calculates the token estimate for the current transcript
// plus a draft input.
func (c *Controller) EstimateTokens(input string) TokenEstimate {
	estimate := TokenEstimate{
		Input: api.EstimateTokensSimple(input),
	}

	c.mu.Lock()
	messages := make([]Message, len(c.messages))
	copy(messages, c.messages)
	c.mu.Unlock()

	for _, msg := range messages {
		estimate.History += api.EstimateTokensSimple(msg.Content)
	}

	estimate.Total = estimate.History + estimate.Input
	return estimate
}
