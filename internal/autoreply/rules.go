// Package autoreply answers messages that contain configured keywords.
// Rules are loaded from YAML files and matched as standalone words, so a
// keyword never triggers inside a longer word.
package autoreply

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"wabot/internal/domain"

	"gopkg.in/yaml.v3"
)

// Rule maps one keyword to a canned response.
type Rule struct {
	Keyword  string `yaml:"keyword"`
	Text     string `yaml:"text"`
	Media    string `yaml:"media"`     // "", "image", "video", "audio", "document"
	MediaRef string `yaml:"media_ref"` // path or url the transport understands
	Caption  string `yaml:"caption"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadDirectory reads every .yaml/.yml file under dir. A missing
// directory is not an error; malformed files are skipped with a
// warning so one bad rule file never disables the rest.
func LoadDirectory(dir string, logger *slog.Logger) ([]Rule, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("autoreply rules directory does not exist, skipping", "dir", dir)
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read autoreply rules dir: %w", err)
	}

	var rules []Rule
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("cannot read autoreply rule file", "path", path, "err", err)
			continue
		}

		var rf ruleFile
		if err := yaml.Unmarshal(data, &rf); err != nil {
			logger.Warn("cannot parse autoreply rule file", "path", path, "err", err)
			continue
		}

		for _, r := range rf.Rules {
			if strings.TrimSpace(r.Keyword) == "" {
				logger.Warn("autoreply rule without keyword skipped", "path", path)
				continue
			}
			rules = append(rules, r)
		}
		logger.Info("loaded autoreply rules", "path", path, "count", len(rf.Rules))
	}

	return rules, nil
}

// Responder matches inbound text against loaded rules.
type Responder struct {
	rules    []Rule
	patterns []keywordPatterns
	logger   *slog.Logger
}

type keywordPatterns struct {
	exact      string
	prefix     *regexp.Regexp
	standalone *regexp.Regexp
	phrase     *regexp.Regexp // only for multi-word keywords
	command    *regexp.Regexp
}

func NewResponder(rules []Rule, logger *slog.Logger) *Responder {
	r := &Responder{rules: rules, logger: logger}
	for _, rule := range rules {
		kw := regexp.QuoteMeta(strings.ToLower(strings.TrimSpace(rule.Keyword)))
		kp := keywordPatterns{
			exact:      strings.ToLower(strings.TrimSpace(rule.Keyword)),
			prefix:     regexp.MustCompile(`(?i)^` + kw + `[\s.,!?;:]`),
			standalone: regexp.MustCompile(`(?i)(^|\s)` + kw + `(\s|$|[.,!?;:])`),
			command:    regexp.MustCompile(`(?i)^[.!#]?` + kw + `(\s|$)`),
		}
		if strings.Contains(rule.Keyword, " ") {
			kp.phrase = regexp.MustCompile(`(?i)\b` + kw + `\b`)
		}
		r.patterns = append(r.patterns, kp)
	}
	return r
}

// Match returns the first rule triggered by text, or nil. A keyword
// only matches when it stands alone: "p" matches "p " and ".p" but
// never "pernah".
func (r *Responder) Match(text string) *Rule {
	txt := strings.TrimSpace(text)
	if txt == "" {
		return nil
	}
	lower := strings.ToLower(txt)

	for i := range r.patterns {
		kp := &r.patterns[i]
		if lower == kp.exact ||
			kp.prefix.MatchString(txt) ||
			kp.standalone.MatchString(txt) ||
			(kp.phrase != nil && kp.phrase.MatchString(lower)) ||
			kp.command.MatchString(txt) {
			return &r.rules[i]
		}
	}
	return nil
}

// FormatText expands the newline escapes rule authors use.
func FormatText(text string) string {
	if text == "" {
		return ""
	}
	replacer := strings.NewReplacer(`\n`, "\n", "<br>", "\n", "<br/>", "\n", "<br />", "\n", "||", "\n")
	return replacer.Replace(text)
}

// Plugin wraps the responder as pipeline middleware so every message
// passes through it.
func Plugin(responder *Responder) *domain.Plugin {
	return &domain.Plugin{
		Name: "autoreply",
		Tags: []string{"store", "utility"},
		Middleware: func(ctx context.Context, ev *domain.InboundEvent, rt *domain.Runtime) error {
			if ev.FromSelf || ev.Kind != domain.EventMessage || ev.Text == "" {
				return nil
			}
			rule := responder.Match(ev.Text)
			if rule == nil {
				return nil
			}
			responder.logger.Info("autoreply triggered", "keyword", rule.Keyword, "conversation", ev.Conversation)

			content := domain.OutboundContent{}
			if rule.Media != "" && rule.MediaRef != "" {
				content.Media = domain.MediaKind(rule.Media)
				content.MediaRef = rule.MediaRef
				content.Caption = FormatText(rule.Caption)
			} else {
				content.Text = FormatText(rule.Text)
			}
			return rt.Transport.Send(ctx, ev.Conversation, content, &domain.SendOptions{QuotedID: ev.MessageID})
		},
	}
}
