package outputguard

// DefaultRules returns MASK rules for common credential formats. They are
// seeded into an empty rule store when output_guard.seed_defaults is set.
func DefaultRules() []Rule {
	patterns := []struct {
		name    string
		pattern string
	}{
		{"aws_access_key", `AKIA[0-9A-Z]{16}`},
		{"github_token", `gh[pousr]_[A-Za-z0-9_]{36,255}`},
		{"github_pat_fine", `github_pat_[A-Za-z0-9_]{22,255}`},
		{"private_key", `-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----[\s\S]*?-----END (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`},
		{"slack_token", `xox[baprs]-[0-9]{10,13}-[0-9]{10,13}[a-zA-Z0-9-]*`},
		{"stripe_key", `(?:sk|pk)_(?:live|test)_[A-Za-z0-9]{20,100}`},
		{"google_api_key", `AIza[A-Za-z0-9\-_]{35}`},
		{"jwt_token", `eyJ[A-Za-z0-9-_]+\.eyJ[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+`},
		{"generic_secret", `(?i)(?:secret|password|passwd|api[_-]?key|access_token|auth_token)\s*[=:]\s*['"]?[^\s'"]{8,100}['"]?`},
	}

	rules := make([]Rule, 0, len(patterns))
	for i, p := range patterns {
		rules = append(rules, Rule{
			ID:       "default-" + p.name,
			Name:     p.name,
			Pattern:  p.pattern,
			Action:   ActionMask,
			Enabled:  true,
			Priority: 1000 + i*10,
		})
	}
	return rules
}
