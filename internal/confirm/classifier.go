package confirm

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind 表示用户回复的意图类别。
type Kind string

const (
	KindConfirmed Kind = "confirmed"
	KindRejected  Kind = "rejected"
	KindAmbiguous Kind = "ambiguous"
	KindUnknown   Kind = "unknown"
)

// 置信度常量。
const (
	ConfidenceShortMatch = 0.95
	ConfidenceLongMatch  = 0.85
	ConfidenceAmbiguous  = 0.70
	ConfidenceUnknown    = 0.30

	// shortInputLength 以下的归一化输入视为简短回复。
	shortInputLength = 20
)

// Result 是一次分类的结果，每条输入重新计算，不做持久化。
type Result struct {
	Kind          Kind    `json:"kind"`
	MatchedPhrase string  `json:"matched_phrase,omitempty"`
	Confidence    float64 `json:"confidence"`
}

// IsConfirmed 判断是否为明确的肯定。
func (r Result) IsConfirmed() bool { return r.Kind == KindConfirmed }

// IsRejected 判断是否为明确的否定。
func (r Result) IsRejected() bool { return r.Kind == KindRejected }

// PhraseSet 是短语表的文件结构。
type PhraseSet struct {
	Version     string   `yaml:"version"`
	Affirmative []string `yaml:"affirmative"`
	Negative    []string `yaml:"negative"`
	Ambiguous   []string `yaml:"ambiguous"`
}

//go:embed phrases.yaml
var defaultPhrases []byte

// Classifier 将自由文本映射到确认意图。
type Classifier struct {
	version string
	// groups 按优先级排列：肯定、否定、模糊。
	groups []group
}

type group struct {
	kind    Kind
	phrases [][]string
}

// Default 返回使用内置短语表的分类器。
func Default() *Classifier {
	c, err := Load(bytes.NewReader(defaultPhrases))
	if err != nil {
		panic(fmt.Sprintf("内置短语表无效: %v", err))
	}
	return c
}

// Load 从 YAML 读取短语表并构建分类器。
func Load(r io.Reader) (*Classifier, error) {
	var set PhraseSet
	if err := yaml.NewDecoder(r).Decode(&set); err != nil {
		return nil, fmt.Errorf("解析短语表失败: %w", err)
	}
	return New(set)
}

// New 根据短语集合构建分类器，三组短语归一化后必须互不相交。
func New(set PhraseSet) (*Classifier, error) {
	if strings.TrimSpace(set.Version) == "" {
		return nil, fmt.Errorf("短语表缺少 version")
	}
	owner := make(map[string]Kind)
	c := &Classifier{version: set.Version}
	for _, src := range []struct {
		kind    Kind
		phrases []string
	}{
		{KindConfirmed, set.Affirmative},
		{KindRejected, set.Negative},
		{KindAmbiguous, set.Ambiguous},
	} {
		g := group{kind: src.kind}
		for _, phrase := range src.phrases {
			normalized := Normalize(phrase)
			if normalized == "" {
				continue
			}
			if prev, ok := owner[normalized]; ok && prev != src.kind {
				return nil, fmt.Errorf("短语 %q 同时出现在 %s 与 %s 中", normalized, prev, src.kind)
			}
			owner[normalized] = src.kind
			g.phrases = append(g.phrases, strings.Fields(normalized))
		}
		if len(g.phrases) == 0 {
			return nil, fmt.Errorf("短语组 %s 为空", src.kind)
		}
		c.groups = append(c.groups, g)
	}
	return c, nil
}

// Version 返回短语表版本。
func (c *Classifier) Version() string { return c.version }

// Normalize 转小写，去掉 !?.,' 并压缩空白。
func Normalize(text string) string {
	lowered := strings.ToLower(text)
	stripped := strings.Map(func(r rune) rune {
		switch r {
		case '!', '?', '.', ',', '\'', '’':
			return -1
		}
		return r
	}, lowered)
	return strings.Join(strings.Fields(stripped), " ")
}

type match struct {
	kind   Kind
	phrase string
	start  int
	end    int
}

// Classify 对输入做整词/整短语匹配，按肯定、否定、模糊的顺序取第一组命中。
// 被另一组更长短语完全覆盖的命中会被忽略，例如 "not sure" 中的 "sure"。
func (c *Classifier) Classify(text string) Result {
	normalized := Normalize(text)
	if normalized == "" {
		return Result{Kind: KindUnknown, Confidence: ConfidenceUnknown}
	}
	tokens := strings.Fields(normalized)

	var matches []match
	for _, g := range c.groups {
		for _, phrase := range g.phrases {
			for start := 0; start+len(phrase) <= len(tokens); start++ {
				if equalTokens(tokens[start:start+len(phrase)], phrase) {
					matches = append(matches, match{
						kind:   g.kind,
						phrase: strings.Join(phrase, " "),
						start:  start,
						end:    start + len(phrase),
					})
				}
			}
		}
	}
	matches = dropCovered(matches)

	for _, g := range c.groups {
		best, ok := longestOf(matches, g.kind)
		if !ok {
			continue
		}
		return Result{Kind: g.kind, MatchedPhrase: best.phrase, Confidence: confidenceFor(g.kind, normalized)}
	}
	return Result{Kind: KindUnknown, Confidence: ConfidenceUnknown}
}

func confidenceFor(kind Kind, normalized string) float64 {
	if kind == KindAmbiguous {
		return ConfidenceAmbiguous
	}
	if len(normalized) < shortInputLength {
		return ConfidenceShortMatch
	}
	return ConfidenceLongMatch
}

func equalTokens(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func dropCovered(matches []match) []match {
	kept := matches[:0:0]
	for i, m := range matches {
		covered := false
		for j, other := range matches {
			if i == j || other.kind == m.kind {
				continue
			}
			if other.start <= m.start && other.end >= m.end && other.end-other.start > m.end-m.start {
				covered = true
				break
			}
		}
		if !covered {
			kept = append(kept, m)
		}
	}
	return kept
}

func longestOf(matches []match, kind Kind) (match, bool) {
	var best match
	found := false
	for _, m := range matches {
		if m.kind != kind {
			continue
		}
		if !found || m.end-m.start > best.end-best.start {
			best = m
			found = true
		}
	}
	return best, found
}
