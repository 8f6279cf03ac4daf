package anthropic

// CachedSystem returns a single system block marked as a prompt-cache
// breakpoint. Classification batches of one job share the same system
// prompt, so every batch after the first reads it from cache.
func CachedSystem(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: "5m"},
		},
	}
}
