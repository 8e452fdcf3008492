// Package tokens provides the cheap character-based token estimate used
// for compaction thresholds and prompt budgeting. It deliberately avoids
// any provider tokenizer call: the estimate only has to be monotonic and
// roughly proportional, not exact.
package tokens

// charsPerToken approximates English text tokenization (~4 chars/token).
const charsPerToken = 4

// Estimate returns the approximate token count for s. Non-empty strings
// estimate to at least 1 token.
func Estimate(s string) int {
	if len(s) == 0 {
		return 0
	}
	n := (len(s) + charsPerToken - 1) / charsPerToken
	if n < 1 {
		n = 1
	}
	return n
}
