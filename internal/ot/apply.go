package ot

// Apply returns the result of applying op to content. Positions are clamped
// into [0, len(content)] (insert) or adjusted so the delete window never runs
// past the end. The engine never fails, per the pathological-position rule:
// out-of-range ops are clamped here, and the caller is responsible for
// logging that a clamp occurred.
func Apply(content []uint16, op Op) []uint16 {
	switch v := op.(type) {
	case Insert:
		return applyInsert(content, v)
	case Delete:
		return applyDelete(content, v)
	default:
		return content
	}
}

func applyInsert(content []uint16, op Insert) []uint16 {
	pos := clamp(op.Position, 0, len(content))
	out := make([]uint16, 0, len(content)+len(op.Text))
	out = append(out, content[:pos]...)
	out = append(out, op.Text...)
	out = append(out, content[pos:]...)
	return out
}

func applyDelete(content []uint16, op Delete) []uint16 {
	if op.Length <= 0 {
		return content
	}
	pos := clamp(op.Position, 0, len(content))
	end := clamp(pos+op.Length, pos, len(content))
	out := make([]uint16, 0, len(content)-(end-pos))
	out = append(out, content[:pos]...)
	out = append(out, content[end:]...)
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
