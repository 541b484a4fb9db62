package pipeline

// progressFor computes the integer progress percentage for EXECUTE's
// linear-in-(completed/total) boundary: 10% once query generation
// completes, linear up to 90% across completed queries. Percentages
// always normalize to an int in [0, 100].
func progressFor(completed, total int) int {
	if total <= 0 {
		return 90
	}
	span := 90 - 10
	pct := 10 + (completed*span)/total
	if pct > 90 {
		pct = 90
	}
	return pct
}
