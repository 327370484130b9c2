package timeline

import (
	"sort"
	"strings"
	"time"
)

// ClassifierConfig holds all tunable parameters for actor classification.
type ClassifierConfig struct {
	// Known AI reviewer identities (usernames or IDs), always labeled AI.
	AIReviewers []string

	// Identities excluded from the name-pattern heuristics. CI and build
	// bots land here so that "jenkins-bot" is not counted as an AI reviewer.
	DeniedBots []string

	// Name substrings that indicate an automated reviewer.
	BotPatterns []string

	// Identities that sometimes review by hand and sometimes via automation.
	// Only these are eligible for burst-window reclassification.
	HybridReviewers []string

	// Number of comments within BurstWindow that marks a hybrid identity as
	// automated (default: 5).
	BurstComments int

	// Sliding window for burst detection (default: 60s).
	BurstWindow time.Duration

	// A hybrid identity is only reclassified when its first response landed
	// within this latency from MR creation (default: 8 minutes).
	BurstMaxLatency time.Duration
}

// DefaultClassifierConfig returns reasonable defaults for classification.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		BotPatterns:     []string{"bot", "ai", "automated", "copilot"},
		DeniedBots:      []string{"ci", "jenkins", "buildkite", "github-actions", "gitlab-runner"},
		BurstComments:   5,
		BurstWindow:     60 * time.Second,
		BurstMaxLatency: 8 * time.Minute,
	}
}

// Classifier labels merge request actors using a priority-ordered rule list.
// Each rule either commits to a role or passes to the next one; the first
// rule that commits wins.
type Classifier struct {
	cfg         ClassifierConfig
	aiReviewers map[string]bool
	deniedBots  map[string]bool
	hybrids     map[string]bool
}

// ruleInput is the evidence a single rule sees about one actor.
type ruleInput struct {
	actorID   string
	actorName string
	authorID  string
	system    bool
	burst     bool
}

// rule inspects an actor and returns a role plus whether it commits to it.
type rule func(c *Classifier, in ruleInput) (Role, bool)

// rules are evaluated strictly in order: the MR author always wins, then the
// configured AI allow-list, then the CI denylist, then name patterns, then
// the hybrid burst heuristic. Anything left is a human reviewer.
var rules = []rule{
	systemRule,
	authorRule,
	allowListRule,
	denyListRule,
	patternRule,
	burstRule,
}

// NewClassifier builds a classifier from cfg.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	return &Classifier{
		cfg:         cfg,
		aiReviewers: lowerSet(cfg.AIReviewers),
		deniedBots:  lowerSet(cfg.DeniedBots),
		hybrids:     lowerSet(cfg.HybridReviewers),
	}
}

func lowerSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[strings.ToLower(n)] = true
	}
	return set
}

// RoleFor labels one actor. burst is the per-MR set of hybrid identities
// detected by BurstIdentities; pass nil when burst detection is not wanted.
func (c *Classifier) RoleFor(actorID, actorName string, system bool, authorID string, burst map[string]bool) Role {
	in := ruleInput{
		actorID:   actorID,
		actorName: actorName,
		authorID:  authorID,
		system:    system,
		burst:     burst[actorID],
	}
	for _, r := range rules {
		if role, ok := r(c, in); ok {
			return role
		}
	}
	return RoleHumanReviewer
}

// systemRule labels events with no associated human actor.
func systemRule(_ *Classifier, in ruleInput) (Role, bool) {
	if in.system || in.actorID == "" {
		return RoleSystem, true
	}
	return "", false
}

// authorRule: the MR author identity always wins. An author that is itself
// a bot is still the author, never a reviewer.
func authorRule(_ *Classifier, in ruleInput) (Role, bool) {
	if in.actorID == in.authorID {
		return RoleAuthor, true
	}
	return "", false
}

func (c *Classifier) matches(set map[string]bool, in ruleInput) bool {
	return set[strings.ToLower(in.actorID)] || (in.actorName != "" && set[strings.ToLower(in.actorName)])
}

// allowListRule labels explicitly configured AI reviewer identities.
func allowListRule(c *Classifier, in ruleInput) (Role, bool) {
	if c.matches(c.aiReviewers, in) {
		return RoleAIReviewer, true
	}
	return "", false
}

// denyListRule keeps known CI/build identities out of the pattern heuristic.
func denyListRule(c *Classifier, in ruleInput) (Role, bool) {
	if c.matches(c.deniedBots, in) {
		return RoleHumanReviewer, true
	}
	return "", false
}

// patternRule applies the configured bot name substrings.
func patternRule(c *Classifier, in ruleInput) (Role, bool) {
	id := strings.ToLower(in.actorID)
	name := strings.ToLower(in.actorName)
	for _, p := range c.cfg.BotPatterns {
		if strings.Contains(id, p) || (name != "" && strings.Contains(name, p)) {
			return RoleAIReviewer, true
		}
	}
	return "", false
}

// burstRule reclassifies a hybrid identity whose comments arrived in an
// automation-like burst.
func burstRule(_ *Classifier, in ruleInput) (Role, bool) {
	if in.burst {
		return RoleAIReviewer, true
	}
	return "", false
}

// BurstIdentities returns the hybrid identities whose comment pattern on one
// MR looks automated: at least BurstComments comments inside a BurstWindow
// sliding window, with the first response within BurstMaxLatency of MR
// creation. Non-hybrid identities are never included.
func (c *Classifier) BurstIdentities(comments []Comment, createdAt time.Time) map[string]bool {
	if len(c.hybrids) == 0 {
		return nil
	}

	byActor := make(map[string][]time.Time)
	for _, cm := range comments {
		if cm.System {
			continue
		}
		if !c.hybrids[strings.ToLower(cm.AuthorID)] && !c.hybrids[strings.ToLower(cm.AuthorName)] {
			continue
		}
		byActor[cm.AuthorID] = append(byActor[cm.AuthorID], cm.CreatedAt)
	}

	burst := make(map[string]bool)
	for actor, times := range byActor {
		if len(times) < c.cfg.BurstComments {
			continue
		}
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
		if times[0].Sub(createdAt) >= c.cfg.BurstMaxLatency {
			continue
		}
		for i := 0; i+c.cfg.BurstComments-1 < len(times); i++ {
			if times[i+c.cfg.BurstComments-1].Sub(times[i]) <= c.cfg.BurstWindow {
				burst[actor] = true
				break
			}
		}
	}
	return burst
}
