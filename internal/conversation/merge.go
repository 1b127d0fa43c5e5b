package conversation

// Merge combines a full message snapshot (next) into a previously accumulated
// raw tree (prev), preserving streamed content while letting later metadata
// win. Rules:
//
//   - Top-level fields other than the nested message object: next overwrites.
//   - Nested message fields other than content: next overwrites (the latest
//     stop_reason/usage wins).
//   - Content arrays merge by block identity: a block with a resolvable
//     identity key replaces the existing block in place (position preserved);
//     otherwise it appends. Blocks without an identity key always append;
//     free-text deltas are merged at the handler layer, not here.
//
// Malformed input degrades to "append as new block". Merge never fails and
// does not mutate its arguments.
func Merge(prev, next map[string]any) map[string]any {
	if next == nil {
		return prev
	}
	if prev == nil {
		return copyTree(next)
	}

	out := make(map[string]any, len(prev)+len(next))
	for k, v := range prev {
		out[k] = v
	}
	for k, v := range next {
		if k == "message" {
			continue
		}
		out[k] = v
	}

	prevMsg, prevOK := prev["message"].(map[string]any)
	nextMsg, nextOK := next["message"].(map[string]any)
	switch {
	case !nextOK:
		// Nothing new nested; keep whatever prev had (including a
		// malformed non-map value).
		if v, ok := prev["message"]; ok {
			out["message"] = v
		}
	case !prevOK:
		out["message"] = copyTree(nextMsg)
	default:
		out["message"] = mergeMessage(prevMsg, nextMsg)
	}
	return out
}

func mergeMessage(prev, next map[string]any) map[string]any {
	out := make(map[string]any, len(prev)+len(next))
	for k, v := range prev {
		out[k] = v
	}
	for k, v := range next {
		if k == "content" {
			continue
		}
		out[k] = v
	}

	prevContent, _ := prev["content"].([]any)
	nextContent, nextOK := next["content"].([]any)
	if !nextOK {
		if v, ok := next["content"]; ok {
			// Malformed incoming content: append it as a single new
			// block rather than dropping it.
			out["content"] = append(append([]any{}, prevContent...), v)
		} else if prevContent != nil {
			out["content"] = prevContent
		}
		return out
	}

	out["content"] = mergeContent(prevContent, nextContent)
	return out
}

func mergeContent(prev, next []any) []any {
	merged := append([]any{}, prev...)

	// Index existing blocks by identity key.
	index := make(map[string]int, len(merged))
	for i, b := range merged {
		if key := blockIdentity(b); key != "" {
			index[key] = i
		}
	}

	for _, b := range next {
		key := blockIdentity(b)
		if key == "" {
			merged = append(merged, b)
			continue
		}
		if i, ok := index[key]; ok {
			merged[i] = b
			continue
		}
		index[key] = len(merged)
		merged = append(merged, b)
	}
	return merged
}

// blockIdentity returns the stable identity key for a content block: the
// explicit id, or "tool_result:"+tool_use_id for tool results. Blocks with
// neither are positional and unmergeable.
func blockIdentity(b any) string {
	block, ok := b.(map[string]any)
	if !ok {
		return ""
	}
	if id, ok := block["id"].(string); ok && id != "" {
		return id
	}
	if t, _ := block["type"].(string); t == "tool_result" {
		if ref, ok := block["tool_use_id"].(string); ok && ref != "" {
			return "tool_result:" + ref
		}
	}
	return ""
}

// copyTree shallow-copies a raw tree one level deep, with a fresh content
// slice, so the accumulating message can be mutated without aliasing the
// parsed wire payload.
func copyTree(src map[string]any) map[string]any {
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	if msg, ok := src["message"].(map[string]any); ok {
		msgCopy := make(map[string]any, len(msg))
		for k, v := range msg {
			msgCopy[k] = v
		}
		if content, ok := msg["content"].([]any); ok {
			msgCopy["content"] = append([]any{}, content...)
		}
		out["message"] = msgCopy
	}
	return out
}
