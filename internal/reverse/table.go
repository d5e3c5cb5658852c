package reverse

import (
	"log/slog"
	"strings"
)

// Rule maps a URL path prefix to a backend base URL.
type Rule struct {
	Path       string // always starts with "/"
	BackendURL string // always contains "://"
}

// Table is an ordered rule set consulted most-recently-added first, so later
// configuration entries take priority over earlier ones. It is populated once
// during startup and read-only for the rest of the process lifetime; lookups
// take no lock.
type Table struct {
	rules  []Rule
	logger *slog.Logger
}

func NewTable(logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{logger: logger}
}

// AddRule validates and registers a rule. Invalid input drops the rule with a
// warning; it never reaches the table and never fails the caller.
func (t *Table) AddRule(path, url string) {
	if url == "" {
		t.logger.Warn("illegal reverse proxy rule: missing url")
		return
	}
	if !strings.Contains(url, "://") {
		t.logger.Warn("skipping reverse proxy rule: not a valid url", "url", url)
		return
	}
	if path != "" && path[0] != '/' {
		t.logger.Warn("skipping reverse proxy rule: path doesn't start with a /", "path", path)
		return
	}
	if path == "" {
		path = "/"
	}
	t.rules = append(t.rules, Rule{Path: path, BackendURL: url})
	t.logger.Info("added reverse proxy rule", "path", path, "url", url)
}

// FindRule returns the most recently added rule whose path is a prefix of
// url. The match is anchored at offset 0 and priority follows recency of
// registration, not prefix length. Do not replace this with longest-prefix
// matching: rule shadowing by recency is part of the contract.
func (t *Table) FindRule(url string) (Rule, bool) {
	for i := len(t.rules) - 1; i >= 0; i-- {
		if strings.HasPrefix(url, t.rules[i].Path) {
			return t.rules[i], true
		}
	}
	return Rule{}, false
}

// Len reports the number of registered rules.
func (t *Table) Len() int { return len(t.rules) }
