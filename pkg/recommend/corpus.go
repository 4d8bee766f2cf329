package recommend

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/pario-ai/ladder/pkg/models"
)

// Corpus is an immutable, sorted set of historical patterns.
type Corpus struct {
	patterns  []models.Pattern
	files     int
	malformed []string
}

// CorpusStats summarizes a corpus.
type CorpusStats struct {
	Files          int                 `json:"files"`
	Patterns       int                 `json:"patterns"`
	MalformedFiles int                 `json:"malformed_files"`
	Malformed      []string            `json:"malformed,omitempty"`
	ByBugType      map[string]int      `json:"by_bug_type"`
	ByTier         map[models.Tier]int `json:"by_tier"`
	SuccessRate    float64             `json:"success_rate"`
	AvgCost        float64             `json:"avg_cost"`
}

// NewCorpus builds a corpus from in-memory patterns.
func NewCorpus(patterns []models.Pattern) *Corpus {
	c := &Corpus{patterns: append([]models.Pattern(nil), patterns...)}
	c.sort()
	return c
}

func (c *Corpus) sort() {
	sort.SliceStable(c.patterns, func(i, j int) bool {
		if c.patterns[i].Source != c.patterns[j].Source {
			return c.patterns[i].Source < c.patterns[j].Source
		}
		return c.patterns[i].ID < c.patterns[j].ID
	})
}

// LoadCorpus reads every *.json, *.yaml and *.yml file under dir. Files that
// fail to parse or hold an invalid pattern are skipped and counted. A missing
// dir yields an empty corpus.
func LoadCorpus(dir string) (*Corpus, error) {
	c := &Corpus{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		var parse func([]byte) ([]models.Pattern, error)
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json":
			parse = parseJSON
		case ".yaml", ".yml":
			parse = parseYAML
		default:
			return nil
		}

		c.files++
		data, err := os.ReadFile(path)
		if err == nil {
			var patterns []models.Pattern
			if patterns, err = parse(data); err == nil {
				rel, _ := filepath.Rel(dir, path)
				for i := range patterns {
					patterns[i].Source = filepath.ToSlash(rel)
					if patterns[i].ID == "" {
						patterns[i].ID = fmt.Sprintf("%s#%d", filepath.ToSlash(rel), i)
					}
				}
				c.patterns = append(c.patterns, patterns...)
				return nil
			}
		}
		log.Warn().Err(err).Str("file", path).Msg("skipping malformed pattern file")
		c.malformed = append(c.malformed, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load patterns: %w", err)
	}
	c.sort()
	return c, nil
}

// parseJSON accepts one pattern object, an array of them, or {"patterns": [...]}.
func parseJSON(data []byte) ([]models.Pattern, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid json")
	}
	root := gjson.ParseBytes(data)

	var items []gjson.Result
	switch {
	case root.Get("patterns").IsArray():
		items = root.Get("patterns").Array()
	case root.IsArray():
		items = root.Array()
	case root.IsObject():
		items = []gjson.Result{root}
	default:
		return nil, errors.New("expected object or array")
	}

	out := make([]models.Pattern, 0, len(items))
	for i, item := range items {
		p, err := patternFromJSON(item)
		if err != nil {
			return nil, fmt.Errorf("pattern %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func patternFromJSON(r gjson.Result) (models.Pattern, error) {
	if !r.IsObject() {
		return models.Pattern{}, errors.New("not an object")
	}
	p := models.Pattern{
		ID:       r.Get("id").String(),
		BugType:  r.Get("bug_type").String(),
		Tier:     models.Tier(r.Get("tier").String()),
		Attempts: int(r.Get("attempts").Int()),
		Cost:     r.Get("cost").Float(),
		Success:  r.Get("success").Bool(),
	}
	if st := r.Get("starting_tier"); st.Exists() {
		p.StartingTier = models.Tier(st.String())
	}
	if files := r.Get("files_affected"); files.Exists() {
		if !files.IsArray() {
			return p, errors.New("files_affected must be an array")
		}
		for _, f := range files.Array() {
			if f.Type != gjson.String {
				return p, errors.New("files_affected entries must be strings")
			}
			p.FilesAffected = append(p.FilesAffected, f.String())
		}
	}
	return normalize(p)
}

// parseYAML accepts one pattern mapping or a mapping with a patterns list.
func parseYAML(data []byte) ([]models.Pattern, error) {
	var top map[string]any
	if err := yaml.Unmarshal(data, &top); err != nil {
		return nil, err
	}

	var patterns []models.Pattern
	if _, ok := top["patterns"]; ok {
		var doc struct {
			Patterns []models.Pattern `yaml:"patterns"`
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		patterns = doc.Patterns
	} else {
		var p models.Pattern
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		patterns = []models.Pattern{p}
	}

	for i := range patterns {
		p, err := normalize(patterns[i])
		if err != nil {
			return nil, fmt.Errorf("pattern %d: %w", i, err)
		}
		patterns[i] = p
	}
	return patterns, nil
}

func normalize(p models.Pattern) (models.Pattern, error) {
	if strings.TrimSpace(p.BugType) == "" {
		return p, errors.New("bug_type is required")
	}
	p.BugType = strings.ToLower(strings.TrimSpace(p.BugType))

	tier, err := models.ParseTier(string(p.Tier))
	if err != nil {
		return p, err
	}
	p.Tier = tier

	if p.StartingTier != "" {
		if p.StartingTier, err = models.ParseTier(string(p.StartingTier)); err != nil {
			return p, err
		}
	}
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Cost < 0 {
		return p, errors.New("cost must not be negative")
	}
	return p, nil
}

// Patterns returns the corpus patterns in deterministic order.
func (c *Corpus) Patterns() []models.Pattern {
	return c.patterns
}

// Stats summarizes the corpus.
func (c *Corpus) Stats() CorpusStats {
	s := CorpusStats{
		Files:          c.files,
		Patterns:       len(c.patterns),
		MalformedFiles: len(c.malformed),
		Malformed:      c.malformed,
		ByBugType:      make(map[string]int),
		ByTier:         make(map[models.Tier]int),
	}
	if len(c.patterns) == 0 {
		return s
	}
	successes := 0
	var cost float64
	for _, p := range c.patterns {
		s.ByBugType[p.BugType]++
		s.ByTier[p.Tier]++
		cost += p.Cost
		if p.Success {
			successes++
		}
	}
	s.SuccessRate = float64(successes) / float64(len(c.patterns))
	s.AvgCost = cost / float64(len(c.patterns))
	return s
}
