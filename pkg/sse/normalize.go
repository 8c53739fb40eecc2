package sse

// Claude-web emits a handful of private event shapes that are not part of
// the public Anthropic SSE schema. They are rewritten here, before schema
// typing, so downstream consumers only ever see public shapes.

// normalizePrivateEvent rewrites known private payloads in place of their
// public equivalent. The returned map is nil when the payload passed
// through untouched; keep is false when the event must be dropped
// entirely.
func normalizePrivateEvent(payload map[string]any) (normalized map[string]any, keep bool) {
	if payload["type"] != "content_block_delta" {
		return nil, true
	}

	delta, ok := payload["delta"].(map[string]any)
	if !ok || delta["type"] != "citation_start_delta" {
		return nil, true
	}

	citation := convertPrivateCitation(delta["citation"])
	if citation == nil {
		// A citation with no URL carries nothing usable; drop the event.
		return nil, false
	}

	normalized = make(map[string]any, len(payload))
	for k, v := range payload {
		normalized[k] = v
	}
	normalized["delta"] = map[string]any{
		"type":     "citations_delta",
		"citation": citation,
	}
	return normalized, true
}

// convertPrivateCitation synthesizes a minimal web_search_result_location
// from the private citation_start_delta payload, which does not carry the
// full Anthropic citation fields. Returns nil when no URL is present.
func convertPrivateCitation(raw any) map[string]any {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}

	url, ok := m["url"].(string)
	if !ok || url == "" {
		return nil
	}

	var title *string
	if t, ok := m["title"].(string); ok {
		title = &t
	}

	encryptedIndex := url
	if u, ok := m["uuid"].(string); ok && u != "" {
		encryptedIndex = u
	}

	citedText := ""
	if title != nil {
		citedText = *title
	}

	return map[string]any{
		"type":            "web_search_result_location",
		"cited_text":      citedText,
		"encrypted_index": encryptedIndex,
		"title":           title,
		"url":             url,
	}
}
