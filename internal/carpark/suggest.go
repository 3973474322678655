package carpark

import "strings"

// MaxSuggestions caps the address autocomplete list.
const MaxSuggestions = 10

// Suggester matches partial addresses against the carpark catalogue.
type Suggester struct {
	addresses []string
	lowered   []string
}

// NewSuggester keeps addresses in the given order.
func NewSuggester(addresses []string) *Suggester {
	s := &Suggester{
		addresses: append([]string(nil), addresses...),
		lowered:   make([]string, len(addresses)),
	}
	for i, a := range s.addresses {
		s.lowered[i] = strings.ToLower(a)
	}
	return s
}

// Suggest returns up to MaxSuggestions addresses containing query, ignoring
// case. A blank query matches nothing.
func (s *Suggester) Suggest(query string) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	out := []string{}
	if q == "" {
		return out
	}
	for i, a := range s.lowered {
		if strings.Contains(a, q) {
			out = append(out, s.addresses[i])
			if len(out) == MaxSuggestions {
				break
			}
		}
	}
	return out
}
