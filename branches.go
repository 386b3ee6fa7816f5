package foundrydata

import (
	"sort"
	"strconv"
)

// DefaultMaxBranches caps how many oneOf/anyOf branches the composer scores.
const DefaultMaxBranches = 32

// BranchScore is the composer's static assessment of one branch.
type BranchScore struct {
	Index int `json:"index"`
	// Discriminant is set when the branch pins a property with const/enum and
	// requires it, the cheapest way to steer selection.
	Discriminant  bool   `json:"discriminant"`
	RequiredCount int    `json:"requiredCount"`
	MinProperties int    `json:"minProperties"`
	Score         int    `json:"score"`
	TrialOutcome  string `json:"trialOutcome,omitempty"` // ok | unsat | skipped
}

// BranchPlan is the ordered branch selection for one oneOf/anyOf node.
type BranchPlan struct {
	CanonPath string        `json:"canonPath"`
	Keyword   string        `json:"keyword"` // oneOf | anyOf
	Scores    []BranchScore `json:"scores"`
	// Order lists branch indexes from most to least preferred; generation
	// walks it until a branch yields a valid candidate.
	Order  []int `json:"order"`
	Capped bool  `json:"capped"`
}

// scoreBranches ranks the branches of a oneOf/anyOf node. Scoring prefers a
// discriminant const, then the least-constrained required set, then the
// smallest minProperties. Ties break on branch index so selection is stable.
func scoreBranches(branches []any, canonPath, keyword string, maxBranches int, trials func(branch any, index int) string) *BranchPlan {
	plan := &BranchPlan{CanonPath: canonPath, Keyword: keyword}
	limit := len(branches)
	if maxBranches > 0 && limit > maxBranches {
		limit = maxBranches
		plan.Capped = true
	}
	for i := 0; i < limit; i++ {
		score := BranchScore{Index: i, TrialOutcome: "skipped"}
		if m := asMap(branches[i]); m != nil {
			score.Discriminant = branchDiscriminant(m)
			score.RequiredCount = len(getStrings(m, "required"))
			if mp, ok := getInt(m, "minProperties"); ok {
				score.MinProperties = mp
			}
		}
		score.Score = branchScoreValue(score)
		if trials != nil {
			score.TrialOutcome = trials(branches[i], i)
			if score.TrialOutcome == "unsat" {
				score.Score -= 1000
			}
		}
		plan.Scores = append(plan.Scores, score)
	}

	plan.Order = make([]int, len(plan.Scores))
	for i := range plan.Order {
		plan.Order[i] = i
	}
	sort.SliceStable(plan.Order, func(a, b int) bool {
		sa, sb := plan.Scores[plan.Order[a]], plan.Scores[plan.Order[b]]
		if sa.Score != sb.Score {
			return sa.Score > sb.Score
		}
		return sa.Index < sb.Index
	})
	return plan
}

func branchScoreValue(s BranchScore) int {
	score := 0
	if s.Discriminant {
		score += 100
	}
	score -= s.RequiredCount * 4
	score -= s.MinProperties
	return score
}

// branchDiscriminant reports a required property constrained to a const or a
// small enum inside the branch.
func branchDiscriminant(branch map[string]any) bool {
	props := asMap(branch["properties"])
	if props == nil {
		// A bare const/enum branch is its own discriminant.
		_, hasConst := branch["const"]
		_, hasEnum := branch["enum"]
		return hasConst || hasEnum
	}
	required := map[string]bool{}
	for _, name := range getStrings(branch, "required") {
		required[name] = true
	}
	for name, raw := range props {
		p := asMap(raw)
		if p == nil {
			continue
		}
		_, hasConst := p["const"]
		_, hasEnum := p["enum"]
		if (hasConst || hasEnum) && required[name] {
			return true
		}
	}
	return false
}

// branchCanonPath addresses one branch of a composite node.
func branchCanonPath(canonPath, keyword string, index int) string {
	return JoinPointer(canonPath, keyword, strconv.Itoa(index))
}
