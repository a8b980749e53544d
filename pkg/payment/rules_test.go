package payment

import (
	"fmt"
	"testing"

	"github.com/nuwa-protocol/subrav-go/pkg/model"
)

func TestMatcherFirstMatchWins(t *testing.T) {
	rules := []model.BillingRule{
		{ID: "exact", When: &model.RuleMatch{Path: "/v1/chat"}},
		{ID: "regex", When: &model.RuleMatch{PathRegex: `^/v1/.*`}},
		{ID: "default", Default: true},
	}
	m := NewMatcher(rules)

	got := m.Match(model.RequestMeta{Path: "/v1/chat"})
	if got == nil || got.ID != "exact" {
		t.Fatalf("want exact rule, got %+v", got)
	}

	got = m.Match(model.RequestMeta{Path: "/v1/other"})
	if got == nil || got.ID != "regex" {
		t.Fatalf("want regex rule, got %+v", got)
	}

	got = m.Match(model.RequestMeta{Path: "/unrelated"})
	if got == nil || got.ID != "default" {
		t.Fatalf("want default rule, got %+v", got)
	}
}

func TestMatcherDefaultSortedLastRegardlessOfPosition(t *testing.T) {
	rules := []model.BillingRule{
		{ID: "default", Default: true},
		{ID: "specific", When: &model.RuleMatch{Path: "/health"}},
	}
	m := NewMatcher(rules)

	got := m.Match(model.RequestMeta{Path: "/health"})
	if got == nil || got.ID != "specific" {
		t.Fatalf("specific rule should win even though it was declared after the default rule, got %+v", got)
	}
}

func TestMatcherNoMatchReturnsNil(t *testing.T) {
	m := NewMatcher([]model.BillingRule{
		{ID: "only", When: &model.RuleMatch{Path: "/only"}},
	})
	if got := m.Match(model.RequestMeta{Path: "/elsewhere"}); got != nil {
		t.Fatalf("expected no match, got %+v", got)
	}
}

func TestMatcherMethodIsCaseInsensitive(t *testing.T) {
	m := NewMatcher([]model.BillingRule{
		{ID: "post-only", When: &model.RuleMatch{Method: "POST"}},
	})
	if got := m.Match(model.RequestMeta{Method: "post"}); got == nil {
		t.Fatalf("expected method match regardless of case")
	}
}

func TestMatcherCustomPredicateRequiresAllKeys(t *testing.T) {
	m := NewMatcher([]model.BillingRule{
		{ID: "tier", When: &model.RuleMatch{Custom: map[string]string{"tier": "gold"}}},
	})
	if got := m.Match(model.RequestMeta{Custom: map[string]string{"tier": "silver"}}); got != nil {
		t.Fatalf("expected no match for mismatched custom key, got %+v", got)
	}
	if got := m.Match(model.RequestMeta{Custom: map[string]string{"tier": "gold"}}); got == nil {
		t.Fatalf("expected match for equal custom key")
	}
}

func TestMatcherRegexCacheReused(t *testing.T) {
	m := NewMatcher([]model.BillingRule{
		{ID: "regex", When: &model.RuleMatch{PathRegex: `^/api/`}},
	})
	for i := 0; i < 10; i++ {
		if got := m.Match(model.RequestMeta{Path: "/api/widgets"}); got == nil {
			t.Fatalf("iteration %d: expected regex match", i)
		}
	}
	if len(m.regexCache) != 1 {
		t.Fatalf("expected exactly one cached pattern, got %d", len(m.regexCache))
	}
}

func TestMatcherRegexCacheEvictsLRU(t *testing.T) {
	m := NewMatcher(nil)
	for i := 0; i < regexCacheSize+10; i++ {
		if _, err := m.compile(fmt.Sprintf("^/pattern-%d/", i)); err != nil {
			t.Fatalf("compile: %v", err)
		}
	}
	if m.regexLRU.Len() > regexCacheSize {
		t.Fatalf("cache grew beyond bound: %d > %d", m.regexLRU.Len(), regexCacheSize)
	}
}

func TestMatcherInvalidRegexNeverMatches(t *testing.T) {
	m := NewMatcher([]model.BillingRule{
		{ID: "bad", When: &model.RuleMatch{PathRegex: "(unterminated"}},
		{ID: "default", Default: true},
	})
	got := m.Match(model.RequestMeta{Path: "/anything"})
	if got == nil || got.ID != "default" {
		t.Fatalf("invalid regex rule should never match, want default, got %+v", got)
	}
}
