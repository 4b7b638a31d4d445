// Package tokencount estimates prompt/completion token counts when an
// upstream response omits a usage object, so proxied requests are never
// recorded with all-zero token counts when a tokenizer applies.
package tokencount
