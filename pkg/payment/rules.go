package payment

import (
	"container/list"
	"regexp"
	"strings"
	"sync"

	"github.com/nuwa-protocol/subrav-go/pkg/model"
)

// regexCacheSize bounds the compiled-pathRegex LRU cache (spec §4.3: "LRU,
// bounded ≈100").
const regexCacheSize = 100

// Matcher selects the BillingRule that applies to a request, in declared
// (insertion) order, falling back to a rule tagged Default (spec §4.3, P5).
type Matcher struct {
	rules []model.BillingRule

	mu         sync.Mutex
	regexCache map[string]*list.Element
	regexLRU   *list.List
}

type regexCacheEntry struct {
	pattern string
	re      *regexp.Regexp
}

// NewMatcher builds a Matcher over rules, sorting any Default rule(s) to the
// end of the evaluation order while preserving the relative order of
// non-default rules and of multiple default rules.
func NewMatcher(rules []model.BillingRule) *Matcher {
	ordered := make([]model.BillingRule, 0, len(rules))
	var defaults []model.BillingRule
	for _, r := range rules {
		if r.Default {
			defaults = append(defaults, r)
		} else {
			ordered = append(ordered, r)
		}
	}
	ordered = append(ordered, defaults...)
	return &Matcher{
		rules:      ordered,
		regexCache: make(map[string]*list.Element),
		regexLRU:   list.New(),
	}
}

// Match returns the first rule whose predicate is satisfied by meta, or the
// Default rule if no non-default rule matches, or nil if neither applies.
func (m *Matcher) Match(meta model.RequestMeta) *model.BillingRule {
	for i := range m.rules {
		rule := &m.rules[i]
		if rule.Default {
			return rule
		}
		if m.predicateMatches(rule.When, meta) {
			return rule
		}
	}
	return nil
}

func (m *Matcher) predicateMatches(when *model.RuleMatch, meta model.RequestMeta) bool {
	if when == nil {
		return false
	}
	if when.Path != "" && when.Path != meta.Path {
		return false
	}
	if when.Method != "" && !strings.EqualFold(when.Method, meta.Method) {
		return false
	}
	if when.PathRegex != "" {
		re, err := m.compile(when.PathRegex)
		if err != nil || !re.MatchString(meta.Path) {
			return false
		}
	}
	for key, want := range when.Custom {
		if meta.Custom[key] != want {
			return false
		}
	}
	return true
}

// compile returns a compiled regexp for pattern, reusing a bounded LRU cache
// across calls so that a hot path doesn't recompile its pattern on every
// request.
func (m *Matcher) compile(pattern string) (*regexp.Regexp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.regexCache[pattern]; ok {
		m.regexLRU.MoveToFront(el)
		return el.Value.(*regexCacheEntry).re, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	el := m.regexLRU.PushFront(&regexCacheEntry{pattern: pattern, re: re})
	m.regexCache[pattern] = el

	if m.regexLRU.Len() > regexCacheSize {
		oldest := m.regexLRU.Back()
		if oldest != nil {
			m.regexLRU.Remove(oldest)
			delete(m.regexCache, oldest.Value.(*regexCacheEntry).pattern)
		}
	}

	return re, nil
}
