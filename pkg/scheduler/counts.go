package scheduler

// counts maps a job type to a non-negative counter. Missing keys read as zero.
type counts map[string]int

func (c counts) get(typ string) int {
	return c[typ]
}

func (c counts) inc(typ string) {
	c[typ]++
}

// dec decrements the counter for typ and reports whether it was positive.
// The entry is kept at zero rather than deleted.
func (c counts) dec(typ string) bool {
	n, ok := c[typ]
	if !ok || n <= 0 {
		return false
	}
	c[typ] = n - 1
	return true
}

// omitZeros returns a copy of c without zero-valued entries.
func (c counts) omitZeros() counts {
	out := make(counts, len(c))
	for k, v := range c {
		if v != 0 {
			out[k] = v
		}
	}
	return out
}
