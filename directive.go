package hilbot

import (
	"strings"
)

// A Directive is an explicit test request found in commit or pull
// request text. At most one line of the form
//
//	test: <instance|*|none> [<instance|*> ...] [filter-word]
//
// is honored. Wildcard means "the caller should expand to all
// instances"; it cannot be combined with explicit instances. "none"
// clears everything found so far on the line. One filter word may
// trail the instance list; it must not start with a digit.
type Directive struct {
	Instances []Instance
	Wildcard  bool
	Filter    string
}

const directivePrefix = "test:"

// ParseDirective scans free text for a test directive line.
// Malformed candidate lines are skipped (they are commentary, not
// errors); scanning continues with the next line. found reports
// whether a well-formed directive was seen.
func ParseDirective(text string) (d Directive, found bool) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, directivePrefix) {
			continue
		}
		d, ok := parseDirectiveLine(strings.TrimSpace(line[len(directivePrefix):]))
		if ok {
			return d, true
		}
	}
	return Directive{}, false
}

func parseDirectiveLine(rest string) (Directive, bool) {
	var d Directive
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return Directive{}, false
	}
	sawFilter := false
	for _, f := range fields {
		switch {
		case sawFilter:
			// nothing may follow the filter word
			return Directive{}, false
		case f == "*":
			if len(d.Instances) > 0 {
				return Directive{}, false
			}
			d.Wildcard = true
		case f == "none":
			d.Instances = nil
			d.Wildcard = false
		case f[0] >= '0' && f[0] <= '9':
			if d.Wildcard {
				return Directive{}, false
			}
			in, err := ParseInstance(f)
			if err != nil {
				return Directive{}, false
			}
			d.Instances = append(d.Instances, in)
		default:
			// a filter word must trail the instance list
			if len(d.Instances) == 0 && !d.Wildcard {
				return Directive{}, false
			}
			d.Filter = f
			sawFilter = true
		}
	}
	return d, true
}
