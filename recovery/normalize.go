package recovery

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/pithecene-io/sluice/types"
)

// decodeCandidate maps a validated element onto a Candidate. Fields with
// unexpected types are left empty rather than rejecting the record. When
// no mapped field carries an identity, the first non-empty identityKeys
// value is kept in Identity.
func decodeCandidate(m map[string]any, identityKeys []string) types.Candidate {
	c := types.Candidate{
		ID:               stringField(m, "id"),
		Name:             stringField(m, "name", "full_name"),
		GithubUsername:   stringField(m, "github_username", "username", "login"),
		GithubProfileURL: stringField(m, "github_profile_url", "profile_url", "github_url", "html_url"),
		Role:             stringField(m, "role", "title"),
		ExperienceLevel:  stringField(m, "experience_level", "seniority"),
		Location:         stringField(m, "location"),
		PrimaryLanguage:  stringField(m, "primary_language", "language"),
		Skills:           stringList(m, "skills"),
		MatchScore:       floatField(m, "match_score", "score"),
		MatchReasons:     stringList(m, "match_reasons", "reasons"),
		MatchedSkills:    stringList(m, "matched_skills"),
		Email:            stringField(m, "email"),
		EmailConfidence:  floatField(m, "email_confidence"),
		EmailSource:      stringField(m, "email_source"),
	}
	if stats, ok := m["github_stats"].(map[string]any); ok {
		c.GithubStats = &types.GithubStats{
			Repos:     intValue(stats["repos"], stats["public_repos"]),
			Stars:     intValue(stats["stars"], stats["total_stars"]),
			Followers: intValue(stats["followers"]),
		}
	}
	if c.Handle() == "" {
		c.Identity = stringField(m, identityKeys...)
	}
	return c
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(DecodeUnicodeEscapes(v)); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func floatField(m map[string]any, keys ...string) *float64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return &v
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return &f
			}
		case string:
			s := strings.TrimSuffix(strings.TrimSpace(v), "%")
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return &f
			}
		}
	}
	return nil
}

func intValue(vals ...any) int64 {
	for _, v := range vals {
		switch t := v.(type) {
		case float64:
			return int64(t)
		case json.Number:
			if n, err := t.Int64(); err == nil {
				return n
			}
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}

func stringList(m map[string]any, keys ...string) []string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case []any:
			out := make([]string, 0, len(v))
			for _, e := range v {
				if s, ok := e.(string); ok && strings.TrimSpace(s) != "" {
					out = append(out, DecodeUnicodeEscapes(s))
				}
			}
			if len(out) > 0 {
				return out
			}
		case string:
			var out []string
			for _, part := range strings.Split(v, ",") {
				if s := strings.TrimSpace(part); s != "" {
					out = append(out, DecodeUnicodeEscapes(s))
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	return nil
}

// DecodeUnicodeEscapes replaces literal \uXXXX sequences left in a string
// by double escaping, including surrogate pairs. Malformed sequences are
// kept verbatim.
func DecodeUnicodeEscapes(s string) string {
	if !strings.Contains(s, `\u`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, n := hexEscape(s, i)
		if n == 0 {
			b.WriteByte(s[i])
			i++
			continue
		}
		if utf16.IsSurrogate(r) {
			if r2, n2 := hexEscape(s, i+n); n2 > 0 {
				if dec := utf16.DecodeRune(r, r2); dec != utf8.RuneError {
					b.WriteRune(dec)
					i += n + n2
					continue
				}
			}
			b.WriteString(s[i : i+n])
			i += n
			continue
		}
		b.WriteRune(r)
		i += n
	}
	return b.String()
}

// hexEscape parses \uXXXX at s[i:]. n is 0 when there is none.
func hexEscape(s string, i int) (r rune, n int) {
	if i+6 > len(s) || s[i] != '\\' || s[i+1] != 'u' {
		return 0, 0
	}
	v, err := strconv.ParseUint(s[i+2:i+6], 16, 32)
	if err != nil {
		return 0, 0
	}
	return rune(v), 6
}
