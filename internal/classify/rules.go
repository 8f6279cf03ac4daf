package classify

import (
	"context"
	_ "embed"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/repairer-sync/internal/model"
	"github.com/sells-group/repairer-sync/internal/normalize"
)

//go:embed default_rules.yaml
var defaultRules []byte

// RuleSet is the YAML schema for the rules backend. services and
// specialties map a tag to the keywords that imply it.
type RuleSet struct {
	ValidKeywords   []string            `yaml:"valid_keywords"`
	InvalidKeywords []string            `yaml:"invalid_keywords"`
	Services        map[string][]string `yaml:"services"`
	Specialties     map[string][]string `yaml:"specialties"`
}

// Rules classifies offline by keyword matching. It ignores the prompt.
type Rules struct {
	rules RuleSet
}

// ParseRules decodes a rule set and folds every keyword.
func ParseRules(data []byte) (*Rules, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, eris.Wrap(err, "classify: parse rules")
	}
	if len(rs.ValidKeywords) == 0 {
		return nil, eris.New("classify: rules need at least one valid keyword")
	}
	rs.ValidKeywords = foldAll(rs.ValidKeywords)
	rs.InvalidKeywords = foldAll(rs.InvalidKeywords)
	for k, v := range rs.Services {
		rs.Services[k] = foldAll(v)
	}
	for k, v := range rs.Specialties {
		rs.Specialties[k] = foldAll(v)
	}
	return &Rules{rules: rs}, nil
}

// LoadRules reads a rule file, or the built-in rules when path is empty.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return ParseRules(defaultRules)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "classify: read rules %s", path)
	}
	return ParseRules(data)
}

// Name implements Classifier.
func (r *Rules) Name() string { return "rules" }

// Classify implements Classifier. A candidate is valid unless invalid
// keywords outnumber valid ones; confidence is the winning side's share of
// all hits, 0.5 when nothing matched.
func (r *Rules) Classify(_ context.Context, cs []model.Candidate, _ string) ([]model.ClassificationResult, error) {
	out := make([]model.ClassificationResult, len(cs))
	for i, c := range cs {
		text := " " + normalize.Fold(strings.Join([]string{
			c.Name, c.Website, c.RawAddress, strings.Join(c.Services, " "),
		}, " ")) + " "

		valid := hits(text, r.rules.ValidKeywords)
		invalid := hits(text, r.rules.InvalidKeywords)

		res := model.ClassificationResult{
			IsValid:     invalid == 0 || valid > invalid,
			Services:    tags(text, r.rules.Services),
			Specialties: tags(text, r.rules.Specialties),
			Confidence:  0.5,
		}
		if total := valid + invalid; total > 0 {
			win := max(valid, invalid)
			if res.IsValid {
				win = valid
			}
			res.Confidence = float64(win) / float64(total)
		}
		out[i] = res
	}
	return out, nil
}

func hits(text string, keywords []string) int {
	n := 0
	for _, k := range keywords {
		if containsWord(text, k) {
			n++
		}
	}
	return n
}

func tags(text string, m map[string][]string) []string {
	var out []string
	for tag, kws := range m {
		if hits(text, kws) > 0 {
			out = append(out, tag)
		}
	}
	sort.Strings(out)
	return out
}

// containsWord matches k on word boundaries so "pc" does not hit "pcb".
func containsWord(text, k string) bool {
	for from := 0; ; {
		i := strings.Index(text[from:], k)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(k)
		if !isWordByte(text[start-1]) && (end >= len(text) || !isWordByte(text[end])) {
			return true
		}
		from = start + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

func foldAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if f := normalize.Fold(s); f != "" {
			out = append(out, f)
		}
	}
	return out
}
