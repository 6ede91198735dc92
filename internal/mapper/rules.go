package mapper

import (
	"sort"
	"strings"
	"unicode"

	"medical-insights-server/internal/taxonomy"
)

// Strategy identifies which matching rule resolved a mention.
type Strategy int

const (
	StrategyExact Strategy = iota
	StrategyKeyword
	StrategyReverseKeyword
	StrategySynonym
	StrategyOrganFallback
)

func (s Strategy) String() string {
	switch s {
	case StrategyExact:
		return "exact"
	case StrategyKeyword:
		return "keyword"
	case StrategyReverseKeyword:
		return "reverse_keyword"
	case StrategySynonym:
		return "synonym"
	case StrategyOrganFallback:
		return "organ_fallback"
	default:
		return "unknown"
	}
}

// minReverseLength keeps very short mentions ("a", "l") from matching every keyword.
const minReverseLength = 3

// rule is one pure predicate over the tokenised mention text.
type rule struct {
	strategy Strategy
	regionID string
	// rank orders competing matches inside one strategy, higher wins.
	rank  int
	order int
	match func(tokens []string) bool
}

// Match is the outcome of resolving one mention.
type Match struct {
	RegionID string
	Strategy Strategy
}

// Resolver evaluates the rule table in strategy order.
type Resolver struct {
	rules []rule
}

// NewResolver compiles the rule table for a taxonomy.
func NewResolver(tax *taxonomy.Taxonomy) *Resolver {
	var rules []rule
	add := func(r rule) {
		r.order = len(rules)
		rules = append(rules, r)
	}

	for _, region := range tax.Regions {
		names := []string{normalize(region.Name), normalize(region.ID)}
		add(rule{
			strategy: StrategyExact,
			regionID: region.ID,
			match: func(tokens []string) bool {
				joined := strings.Join(tokens, " ")
				return joined != "" && (joined == names[0] || joined == names[1])
			},
		})
	}

	for _, region := range tax.Regions {
		for _, kw := range region.Keywords {
			kwTokens := tokenize(kw)
			if len(kwTokens) == 0 {
				continue
			}
			add(rule{
				strategy: StrategyKeyword,
				regionID: region.ID,
				rank:     len(kw),
				match: func(tokens []string) bool {
					return containsPhrase(tokens, kwTokens)
				},
			})
		}
	}

	for _, region := range tax.Regions {
		for _, kw := range region.Keywords {
			kwTokens := tokenize(kw)
			if len(kwTokens) == 0 {
				continue
			}
			add(rule{
				strategy: StrategyReverseKeyword,
				regionID: region.ID,
				rank:     -len(kw),
				match: func(tokens []string) bool {
					if len(strings.Join(tokens, " ")) < minReverseLength {
						return false
					}
					return containsPhrase(kwTokens, tokens)
				},
			})
		}
	}

	for i, cluster := range tax.Synonyms {
		terms := cluster.Terms
		add(rule{
			strategy: StrategySynonym,
			regionID: cluster.Region,
			rank:     -i,
			match: func(tokens []string) bool {
				for _, term := range terms {
					if matchesTerm(tokens, term) {
						return true
					}
				}
				return false
			},
		})
	}

	organs := append([]taxonomy.OrganFallback(nil), tax.Organs...)
	sort.SliceStable(organs, func(i, j int) bool { return len(organs[i].Term) > len(organs[j].Term) })
	for _, organ := range organs {
		termTokens := tokenize(organ.Term)
		if len(termTokens) == 0 {
			continue
		}
		add(rule{
			strategy: StrategyOrganFallback,
			regionID: organ.Region,
			rank:     len(organ.Term),
			match: func(tokens []string) bool {
				return containsPhrase(tokens, termTokens)
			},
		})
	}

	return &Resolver{rules: rules}
}

// Resolve maps free text onto a region id, trying each strategy in priority order.
func (r *Resolver) Resolve(text string) (Match, bool) {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return Match{}, false
	}

	var best *rule
	for i := range r.rules {
		candidate := &r.rules[i]
		if best != nil && candidate.strategy != best.strategy {
			break
		}
		if !candidate.match(tokens) {
			continue
		}
		if best == nil || candidate.rank > best.rank {
			best = candidate
		}
	}
	if best != nil {
		return Match{RegionID: best.regionID, Strategy: best.strategy}, true
	}
	return Match{}, false
}

func normalize(s string) string {
	return strings.Join(tokenize(s), " ")
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// tokenMatches treats simple plurals as equal ("kidneys" ~ "kidney").
func tokenMatches(a, b string) bool {
	if a == b {
		return true
	}
	if len(a) < len(b) {
		a, b = b, a
	}
	return a == b+"s" || a == b+"es"
}

// containsPhrase reports whether needle appears as a contiguous word run in haystack.
func containsPhrase(haystack, needle []string) bool {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		ok := true
		for j := range needle {
			if !tokenMatches(haystack[i+j], needle[j]) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func matchesTerm(tokens []string, term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if prefix, ok := strings.CutSuffix(term, "*"); ok {
		if len(prefix) < minReverseLength {
			return false
		}
		for _, t := range tokens {
			if strings.HasPrefix(t, prefix) {
				return true
			}
		}
		return false
	}
	return containsPhrase(tokens, tokenize(term))
}
