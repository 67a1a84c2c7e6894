package stream

import (
	"fmt"
	"strings"
)

// maxMergeIndex bounds the index values a frame may carry. Real provider
// streams use single-digit indexes; anything past this is a malformed or
// hostile frame, not a response we could represent.
const maxMergeIndex = 10000

// MergeFrame folds one decoded delta frame into the accumulated logical
// response. Routing is by frame shape, not by which vendor issued the call,
// so OpenAI-compatible gateways merge correctly regardless of endpoint.
// Cumulative usage blocks overwrite the running total. A frame carrying an
// index outside [0, maxMergeIndex] is reported as an error; the caller drops
// it like any other malformed frame.
func MergeFrame(acc, frame map[string]any) error {
	var err error
	switch {
	case hasSlice(frame, "choices"):
		err = mergeChoices(acc, frame)
	case isAnthropicFrame(frame):
		err = mergeContentBlocks(acc, frame)
	case hasSlice(frame, "candidates"):
		err = mergeCandidates(acc, frame)
	default:
		// Conservative fallback: last write wins.
		for k, v := range frame {
			acc[k] = v
		}
	}
	if err != nil {
		return err
	}

	if u, ok := frame["usage"].(map[string]any); ok {
		acc["usage"] = u
	}
	if u, ok := frame["usageMetadata"].(map[string]any); ok {
		acc["usageMetadata"] = u
	}
	return nil
}

func hasSlice(m map[string]any, key string) bool {
	_, ok := m[key].([]any)
	return ok
}

func isAnthropicFrame(frame map[string]any) bool {
	if typ, ok := frame["type"].(string); ok {
		if typ == "ping" || strings.HasPrefix(typ, "message_") || strings.HasPrefix(typ, "content_block_") {
			return true
		}
	}
	if _, ok := frame["content_block"]; ok {
		return true
	}
	_, hasDelta := frame["delta"]
	_, hasIndex := frame["index"]
	return hasDelta && hasIndex
}

// mergeChoices accumulates OpenAI-style choices[].delta frames: content is
// concatenated, tool/function call fragments are concatenated by index, and
// finish_reason sticks once seen.
func mergeChoices(acc, frame map[string]any) error {
	for k, v := range frame {
		if k == "choices" || k == "usage" {
			continue
		}
		acc[k] = v
	}

	choices, _ := frame["choices"].([]any)
	accChoices, _ := acc["choices"].([]any)

	for pos, c := range choices {
		cm, ok := c.(map[string]any)
		if !ok {
			continue
		}
		idx, ok := sliceIndex(cm["index"], pos)
		if !ok {
			return fmt.Errorf("choice index %v out of range", cm["index"])
		}
		var target map[string]any
		accChoices, target = mapAt(accChoices, idx)
		target["index"] = idx

		if fr, ok := cm["finish_reason"]; ok && fr != nil {
			target["finish_reason"] = fr
		}

		delta, ok := cm["delta"].(map[string]any)
		if !ok {
			continue
		}
		msg, _ := target["message"].(map[string]any)
		if msg == nil {
			msg = make(map[string]any)
			target["message"] = msg
		}
		if err := mergeChoiceDelta(msg, delta); err != nil {
			return err
		}
	}
	acc["choices"] = accChoices
	return nil
}

func mergeChoiceDelta(msg, delta map[string]any) error {
	if role, ok := delta["role"].(string); ok && role != "" {
		msg["role"] = role
	}
	if content, ok := delta["content"].(string); ok {
		prev, _ := msg["content"].(string)
		msg["content"] = prev + content
	}
	if fc, ok := delta["function_call"].(map[string]any); ok {
		prev, _ := msg["function_call"].(map[string]any)
		if prev == nil {
			prev = make(map[string]any)
			msg["function_call"] = prev
		}
		appendStringField(prev, fc, "name")
		appendStringField(prev, fc, "arguments")
	}
	if tcs, ok := delta["tool_calls"].([]any); ok {
		accTCs, _ := msg["tool_calls"].([]any)
		for pos, tc := range tcs {
			tcm, ok := tc.(map[string]any)
			if !ok {
				continue
			}
			idx, ok := sliceIndex(tcm["index"], pos)
			if !ok {
				return fmt.Errorf("tool_call index %v out of range", tcm["index"])
			}
			var target map[string]any
			accTCs, target = mapAt(accTCs, idx)
			if id, ok := tcm["id"].(string); ok && id != "" {
				target["id"] = id
			}
			if typ, ok := tcm["type"].(string); ok && typ != "" {
				target["type"] = typ
			}
			if fn, ok := tcm["function"].(map[string]any); ok {
				prev, _ := target["function"].(map[string]any)
				if prev == nil {
					prev = make(map[string]any)
					target["function"] = prev
				}
				appendStringField(prev, fn, "name")
				appendStringField(prev, fn, "arguments")
			}
		}
		msg["tool_calls"] = accTCs
	}
	return nil
}

// mergeContentBlocks accumulates Anthropic-style frames by content-block
// index, concatenating delta.text into the corresponding block.
func mergeContentBlocks(acc, frame map[string]any) error {
	typ, _ := frame["type"].(string)
	switch typ {
	case "ping", "content_block_stop":
		return nil
	case "message_start":
		if msg, ok := frame["message"].(map[string]any); ok {
			for k, v := range msg {
				if k == "usage" {
					acc["usage"] = v
					continue
				}
				acc[k] = v
			}
		}
		return nil
	case "content_block_start":
		idx, ok := sliceIndex(frame["index"], 0)
		if !ok {
			return fmt.Errorf("content block index %v out of range", frame["index"])
		}
		blocks, _ := acc["content"].([]any)
		var block map[string]any
		blocks, block = mapAt(blocks, idx)
		if cb, ok := frame["content_block"].(map[string]any); ok {
			for k, v := range cb {
				block[k] = v
			}
		}
		acc["content"] = blocks
		return nil
	case "message_delta":
		if d, ok := frame["delta"].(map[string]any); ok {
			for k, v := range d {
				acc[k] = v
			}
		}
		return nil
	}

	// content_block_delta, or an untyped frame that carries delta+index.
	delta, ok := frame["delta"].(map[string]any)
	if !ok {
		return nil
	}
	idx, ok := sliceIndex(frame["index"], 0)
	if !ok {
		return fmt.Errorf("content block index %v out of range", frame["index"])
	}
	blocks, _ := acc["content"].([]any)
	var block map[string]any
	blocks, block = mapAt(blocks, idx)

	if text, ok := delta["text"].(string); ok {
		prev, _ := block["text"].(string)
		block["text"] = prev + text
		if _, ok := block["type"]; !ok {
			block["type"] = "text"
		}
	}
	if pj, ok := delta["partial_json"].(string); ok {
		prev, _ := block["partial_json"].(string)
		block["partial_json"] = prev + pj
	}
	acc["content"] = blocks
	return nil
}

// mergeCandidates accumulates Google-style candidates[].content.parts
// positionally, concatenating per-part text fragments.
func mergeCandidates(acc, frame map[string]any) error {
	for k, v := range frame {
		if k == "candidates" || k == "usageMetadata" {
			continue
		}
		acc[k] = v
	}

	cands, _ := frame["candidates"].([]any)
	accCands, _ := acc["candidates"].([]any)

	for pos, c := range cands {
		cm, ok := c.(map[string]any)
		if !ok {
			continue
		}
		idx, ok := sliceIndex(cm["index"], pos)
		if !ok {
			return fmt.Errorf("candidate index %v out of range", cm["index"])
		}
		var target map[string]any
		accCands, target = mapAt(accCands, idx)
		target["index"] = idx

		if fr, ok := cm["finishReason"]; ok {
			target["finishReason"] = fr
		}

		content, ok := cm["content"].(map[string]any)
		if !ok {
			continue
		}
		accContent, _ := target["content"].(map[string]any)
		if accContent == nil {
			accContent = make(map[string]any)
			target["content"] = accContent
		}
		if role, ok := content["role"].(string); ok {
			accContent["role"] = role
		}

		parts, _ := content["parts"].([]any)
		accParts, _ := accContent["parts"].([]any)
		for j, p := range parts {
			var targetPart map[string]any
			accParts, targetPart = mapAt(accParts, j)
			pm, ok := p.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := pm["text"].(string); ok {
				prev, _ := targetPart["text"].(string)
				targetPart["text"] = prev + text
				continue
			}
			for k, v := range pm {
				targetPart[k] = v
			}
		}
		accContent["parts"] = accParts
	}
	acc["candidates"] = accCands
	return nil
}

func appendStringField(dst, src map[string]any, key string) {
	if s, ok := src[key].(string); ok {
		prev, _ := dst[key].(string)
		dst[key] = prev + s
	}
}

func intOf(v any, def int) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}

// sliceIndex resolves a frame's index value, falling back to position when
// the frame carries none. Indexes outside [0, maxMergeIndex] are rejected.
func sliceIndex(v any, fallback int) (int, bool) {
	idx := intOf(v, fallback)
	if idx < 0 || idx > maxMergeIndex {
		return 0, false
	}
	return idx, true
}

// mapAt extends a slice so idx is addressable and returns the map at that
// slot, replacing a non-map slot with a fresh map. Callers bound idx via
// sliceIndex first.
func mapAt(s []any, idx int) ([]any, map[string]any) {
	for len(s) <= idx {
		s = append(s, make(map[string]any))
	}
	m, ok := s[idx].(map[string]any)
	if !ok {
		m = make(map[string]any)
		s[idx] = m
	}
	return s, m
}
