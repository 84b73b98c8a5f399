// Package matching implements the pluggable EntityMatcher registry used
// to resolve whether a free-text venue description (e.g. a Kalshi market
// title) refers to the same real-world entity (team, candidate, asset)
// as a structured name from an EventProvider. Grounded on
// original_source/rust_core/src/matching/{mod.rs,team.rs} (the
// EntityMatcher trait and TeamMatcher wrapper) and spec §4.8's five-step
// algorithm, since utils/matching.rs's build_team_aliases/
// match_team_in_text bodies were not included in the retrieval pack.
package matching

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hbollon/go-edlib"

	"arbees/pkg/types"
)

// Confidence mirrors utils::matching::MatchConfidence's ordered levels.
type Confidence int

const (
	ConfidenceNone Confidence = iota
	ConfidenceLow
	ConfidenceMedium
	ConfidenceHigh
	ConfidenceExact
)

// Result is the outcome of one match attempt.
type Result struct {
	Confidence Confidence
	Score      float64
	Reason     string
}

// IsMatch reports whether confidence clears the Medium bar, per spec §4.8.
func (r Result) IsMatch() bool {
	return r.Confidence >= ConfidenceMedium
}

// Context carries the market type and any other routing hints a matcher
// needs to pick the right alias table.
type Context struct {
	MarketType types.MarketType
}

// Matcher is the interface every entity matcher implements.
type Matcher interface {
	MatchEntityInText(entity, text string, ctx Context) Result
	Supports(mt types.MarketType) bool
	Name() string
}

// Registry dispatches to the first matcher whose Supports returns true,
// mirroring the registry pattern shared by C8/C9.
type Registry struct {
	matchers []Matcher
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends m to the dispatch list.
func (r *Registry) Register(m Matcher) {
	r.matchers = append(r.matchers, m)
}

// Match finds the first supporting matcher and runs it.
func (r *Registry) Match(entity, text string, ctx Context) (Result, error) {
	for _, m := range r.matchers {
		if m.Supports(ctx.MarketType) {
			return m.MatchEntityInText(entity, text, ctx), nil
		}
	}
	return Result{}, fmt.Errorf("no entity matcher registered for market type %q", ctx.MarketType.Key())
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// normalize lowercases and strips everything but letters/digits, per
// spec §4.8 step 1.
func normalize(s string) string {
	return nonAlnum.ReplaceAllString(strings.ToLower(s), "")
}

// TeamMatcher implements the sports team matching algorithm from spec
// §4.8: normalize-and-compare, bidirectional alias table, word-boundary
// overlap, numeric-token equality, then Jaro-Winkler similarity as a
// last resort. Grounded on team.rs's TeamMatcher, which wraps the same
// five-step contract around a per-sport alias table.
type TeamMatcher struct {
	aliases map[types.Sport]aliasTable
}

// aliasTable is a bidirectional map: every alias maps to the full set of
// names (including itself) it is interchangeable with.
type aliasTable map[string][]string

// NewTeamMatcher returns a matcher pre-populated with a starter alias
// table for the sports this system trades. Real deployments would load
// a fuller table from config; the starter entries exist so the
// nickname/abbreviation path in spec §4.8 step 2 is exercised. Only NBA
// and NFL have entries; the other sports have no aliases.
func NewTeamMatcher() *TeamMatcher {
	return &TeamMatcher{
		aliases: map[types.Sport]aliasTable{
			types.SportNBA: {
				"sixers": {"76ers", "philadelphia 76ers", "philadelphia"},
				"76ers":  {"sixers", "philadelphia 76ers", "philadelphia"},
				"lal":    {"lakers", "los angeles lakers"},
				"lakers": {"lal", "los angeles lakers"},
			},
			types.SportNFL: {
				"niners": {"49ers", "san francisco 49ers"},
				"49ers":  {"niners", "san francisco 49ers"},
			},
		},
	}
}

func (m *TeamMatcher) Supports(mt types.MarketType) bool {
	return mt.Kind == types.MarketTypeSport
}

func (m *TeamMatcher) Name() string {
	return "team_matcher"
}

// MatchEntityInText runs the five-step algorithm from spec §4.8 in
// order, returning on the first step that produces a non-None result.
func (m *TeamMatcher) MatchEntityInText(entity, text string, ctx Context) Result {
	entityNorm := normalize(entity)
	textNorm := normalize(text)

	// Step 1: normalized exact match.
	if entityNorm != "" && entityNorm == textNorm {
		return Result{Confidence: ConfidenceExact, Score: 1.0, Reason: "normalized exact match"}
	}

	// Step 2: sport-scoped bidirectional alias table.
	if table, ok := m.aliases[ctx.MarketType.Sport]; ok {
		if aliasResult, matched := matchAliasTable(table, entityNorm, textNorm); matched {
			return aliasResult
		}
	}

	// Step 3: word-boundary overlap.
	if wordResult, matched := matchWordOverlap(entity, text); matched {
		return wordResult
	}

	// Step 4: numeric-token equality (e.g. "76ers" embeds "76").
	if numResult, matched := matchNumericToken(entity, text); matched {
		return numResult
	}

	// Step 5: Jaro-Winkler similarity fallback.
	sim, err := edlib.StringsSimilarity(entityNorm, textNorm, edlib.JaroWinkler)
	if err == nil && sim > 0.88 {
		conf := ConfidenceLow
		if sim > 0.95 {
			conf = ConfidenceMedium
		}
		return Result{Confidence: conf, Score: float64(sim), Reason: "jaro-winkler similarity"}
	}

	return Result{Confidence: ConfidenceNone, Score: 0, Reason: "no match"}
}

// matchAliasTable checks whether entityNorm's alias set (itself plus
// every alias that maps to it) appears as a substring of textNorm, per
// spec §4.8 step 2. textNorm appearing inside an alias is not checked.
func matchAliasTable(table aliasTable, entityNorm, textNorm string) (Result, bool) {
	candidates := []string{entityNorm}
	if group, ok := table[entityNorm]; ok {
		candidates = append(candidates, group...)
	}
	for alias, group := range table {
		for _, g := range group {
			if normalize(g) == entityNorm {
				candidates = append(candidates, alias)
			}
		}
	}

	for _, c := range candidates {
		norm := normalize(c)
		if norm != "" && strings.Contains(textNorm, norm) {
			return Result{Confidence: ConfidenceHigh, Score: 0.9, Reason: fmt.Sprintf("alias match on %q", c)}, true
		}
	}
	return Result{}, false
}

// matchWordOverlap tokenizes entity and text into words and checks for
// exact word intersection, requiring at least ceil(|shorter|/2) words to
// overlap for a multi-word entity, per spec §4.8 step 3.
func matchWordOverlap(entity, text string) (Result, bool) {
	entityWords := tokenize(entity)
	textWords := tokenizeSet(text)

	if len(entityWords) == 0 {
		return Result{}, false
	}

	overlap := 0
	for _, w := range entityWords {
		if textWords[w] {
			overlap++
		}
	}
	if overlap == 0 {
		return Result{}, false
	}

	if len(entityWords) == 1 {
		return Result{Confidence: ConfidenceMedium, Score: 0.75, Reason: "single word-boundary match"}, true
	}

	required := (min(len(entityWords), len(textWords)) + 1) / 2 // ceil(|shorter|/2)
	if overlap >= required {
		conf := ConfidenceMedium
		if overlap == len(entityWords) {
			conf = ConfidenceHigh
		}
		score := float64(overlap) / float64(len(entityWords))
		return Result{Confidence: conf, Score: score, Reason: "multi-word overlap"}, true
	}
	return Result{}, false
}

var wordSplit = regexp.MustCompile(`[^a-z0-9]+`)

func tokenize(s string) []string {
	var out []string
	for _, w := range wordSplit.Split(strings.ToLower(s), -1) {
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

func tokenizeSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range tokenize(s) {
		set[w] = true
	}
	return set
}

var numericToken = regexp.MustCompile(`\d+`)

// matchNumericToken handles names whose distinguishing feature is a
// number embedded in an alphanumeric token (e.g. "76ers"), per spec
// §4.8 step 4: if entity and text share a numeric substring of at least
// two digits, treat it as a positive signal even when the surrounding
// letters differ (e.g. "Sixers" vs "76ers" already caught by aliases;
// this step catches unaliased numeric names like "Team 76" vs "76";
// single-digit tokens are skipped).
func matchNumericToken(entity, text string) (Result, bool) {
	entityNums := numericToken.FindAllString(strings.ToLower(entity), -1)
	textNorm := strings.ToLower(text)
	for _, n := range entityNums {
		if len(n) < 2 {
			continue
		}
		if strings.Contains(textNorm, n) {
			return Result{Confidence: ConfidenceMedium, Score: 0.7, Reason: fmt.Sprintf("numeric token %q", n)}, true
		}
	}
	return Result{}, false
}
