//nolint:revive // types is a common Go package naming convention
package types

// Candidate is a structured domain record recovered from model output.
// Only the identity fields are guaranteed; everything else is best effort.
type Candidate struct {
	ID               string       `json:"id,omitempty" yaml:"id,omitempty"`
	Name             string       `json:"name,omitempty" yaml:"name,omitempty"`
	GithubUsername   string       `json:"github_username,omitempty" yaml:"github_username,omitempty"`
	GithubProfileURL string       `json:"github_profile_url,omitempty" yaml:"github_profile_url,omitempty"`
	Role             string       `json:"role,omitempty" yaml:"role,omitempty"`
	ExperienceLevel  string       `json:"experience_level,omitempty" yaml:"experience_level,omitempty"`
	Location         string       `json:"location,omitempty" yaml:"location,omitempty"`
	PrimaryLanguage  string       `json:"primary_language,omitempty" yaml:"primary_language,omitempty"`
	Skills           []string     `json:"skills,omitempty" yaml:"skills,omitempty"`
	GithubStats      *GithubStats `json:"github_stats,omitempty" yaml:"github_stats,omitempty"`
	MatchScore       *float64     `json:"match_score,omitempty" yaml:"match_score,omitempty"`
	MatchReasons     []string     `json:"match_reasons,omitempty" yaml:"match_reasons,omitempty"`
	MatchedSkills    []string     `json:"matched_skills,omitempty" yaml:"matched_skills,omitempty"`
	Email            string       `json:"email,omitempty" yaml:"email,omitempty"`
	EmailConfidence  *float64     `json:"email_confidence,omitempty" yaml:"email_confidence,omitempty"`
	EmailSource      string       `json:"email_source,omitempty" yaml:"email_source,omitempty"`
	// Identity holds the value of the configured identity field when none
	// of the fields above carries one.
	Identity         string       `json:"identity,omitempty" yaml:"identity,omitempty"`
}

// GithubStats holds public profile counters.
type GithubStats struct {
	Repos     int64 `json:"repos" yaml:"repos"`
	Stars     int64 `json:"stars" yaml:"stars"`
	Followers int64 `json:"followers" yaml:"followers"`
}

// Handle returns the first non-empty identity field.
func (c Candidate) Handle() string {
	switch {
	case c.GithubUsername != "":
		return c.GithubUsername
	case c.Name != "":
		return c.Name
	case c.ID != "":
		return c.ID
	default:
		return c.Identity
	}
}
