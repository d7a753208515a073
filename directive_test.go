package hilbot

import (
	"reflect"
	"testing"
)

func TestParseDirective(t *testing.T) {
	cases := []struct {
		text string
		d    Directive
	}{
		{"test: 1.0.3 3 7.0", Directive{Instances: []Instance{{1, 0, 3}, {3}, {7, 0}}}},
		{"test: 1 2 example", Directive{Instances: []Instance{{1}, {2}}, Filter: "example"}},
		{"test: *", Directive{Wildcard: true}},
		{"test: none", Directive{}},
		{"fix the widget\n\ntest: 4 5\nmore text", Directive{Instances: []Instance{{4}, {5}}}},
		{"test: 1 none 2", Directive{Instances: []Instance{{2}}}},
		{"test: * exampleSec", Directive{Wildcard: true, Filter: "exampleSec"}},
	}

	for _, test := range cases {
		d, found := ParseDirective(test.text)
		if !found {
			t.Errorf("ParseDirective(%q) found = false, want true", test.text)
			continue
		}
		if !reflect.DeepEqual(d, test.d) {
			t.Errorf("ParseDirective(%q) = %+v, want %+v", test.text, d, test.d)
		}
	}
}

func TestParseDirectiveBad(t *testing.T) {
	cases := []string{
		"test: example 1",  // filter before instance
		"test: 1 foo bar",  // two filter words
		"test: * 1",        // wildcard combined with instance
		"test: 1 *",        // instance combined with wildcard
		"test:",            // nothing at all
		"test: 1.x",        // malformed instance
		"no directive here",
	}

	for _, test := range cases {
		if _, found := ParseDirective(test); found {
			t.Errorf("ParseDirective(%q) found = true, want false", test)
		}
	}
}

func TestRunFlag(t *testing.T) {
	f := NewRunFlag()
	if f.Cleared() {
		t.Fatal("new flag is cleared")
	}
	f.Clear()
	f.Clear() // idempotent
	if !f.Cleared() {
		t.Fatal("flag not cleared")
	}
	select {
	case <-f.Done():
	default:
		t.Fatal("Done channel not closed")
	}
}
