package app

import "history-quiz-engine/internal/domain"

// AchievementFacts is everything the rule set may inspect: the attempt just
// completed and the user's persisted history. CompletedTests is counted
// fresh from storage each time so externally inserted results still count.
type AchievementFacts struct {
	Percentage     float64
	CompletedTests int
}

type achievementRule struct {
	name        string
	description string
	points      int
	badgeURL    string
	qualifies   func(AchievementFacts) bool
}

// The rule table is fixed; extend by appending entries. Each rule must be
// independently idempotent: the name acts as the per-user dedup key.
var achievementRules = []achievementRule{
	{
		name:        "First test",
		description: "Completed the first test",
		points:      10,
		badgeURL:    "badges/first_test.png",
		qualifies:   func(AchievementFacts) bool { return true },
	},
	{
		name:        "Perfect score",
		description: "Scored 100% on a test",
		points:      50,
		badgeURL:    "badges/perfect_score.png",
		qualifies:   func(f AchievementFacts) bool { return f.Percentage == 100 },
	},
	{
		name:        "History expert",
		description: "Completed 10 tests",
		points:      100,
		badgeURL:    "badges/history_expert.png",
		qualifies:   func(f AchievementFacts) bool { return f.CompletedTests >= 10 },
	},
}

// EvaluateAchievements returns the achievements the user newly qualifies
// for. Pure: callers persist the returned records. Calling twice with the
// same inputs plus the first call's grants yields nothing new.
func EvaluateAchievements(existing map[string]struct{}, facts AchievementFacts) []domain.Achievement {
	var earned []domain.Achievement
	for _, rule := range achievementRules {
		if _, have := existing[rule.name]; have {
			continue
		}
		if !rule.qualifies(facts) {
			continue
		}
		earned = append(earned, domain.Achievement{
			Name:        rule.name,
			Description: rule.description,
			Points:      rule.points,
			BadgeURL:    rule.badgeURL,
		})
	}
	return earned
}
