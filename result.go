package hilbot

// Result codes follow one convention at every layer (instance,
// session, agent, controller): 0 is success, a negative value is an
// infrastructure failure (tooling or environment, not the code under
// test), and a positive value is a count of failed test cases.

// Combine folds per-instance (or per-agent) result codes into one.
// If any code is negative the aggregate is the sum of the negative
// codes only and every positive count is discarded; otherwise it is
// the sum of the positive counts. CI consumers depend on this exact
// rule, quirks included: a single infrastructure failure hides any
// legitimate test-failure counts from the same run.
func Combine(codes []int) int {
	sum, negSum := 0, 0
	for _, c := range codes {
		if c < 0 {
			negSum += c
		} else {
			sum += c
		}
	}
	if negSum < 0 {
		return negSum
	}
	return sum
}

// An Accumulator applies the Combine rule incrementally, so a session
// can fold results in as instances finish without keeping the slice.
type Accumulator struct {
	sum    int
	negSum int
}

// Add folds one result code into the accumulator.
func (a *Accumulator) Add(code int) {
	if code < 0 {
		a.negSum += code
	} else {
		a.sum += code
	}
}

// Failed reports whether any code added so far was non-zero.
func (a *Accumulator) Failed() bool {
	return a.sum != 0 || a.negSum != 0
}

// Result returns the aggregate under the sign rule.
func (a *Accumulator) Result() int {
	if a.negSum < 0 {
		return a.negSum
	}
	return a.sum
}
