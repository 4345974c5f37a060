package transcript

import (
	"fmt"
	"strings"
	"sync"

	"github.com/longbridgeapp/opencc"
)

// Script names accepted by NewScriptNormalizer.
const (
	ScriptNone        = ""
	ScriptTraditional = "traditional"
	ScriptSimplified  = "simplified"
)

// conversions maps a target script to its OpenCC conversion profile.
var conversions = map[string]string{
	ScriptTraditional: "s2t",
	ScriptSimplified:  "t2s",
}

// ScriptNormalizer converts Chinese text to one script variant before it is
// stored. Text in other languages passes through unchanged. The zero value
// and a nil *ScriptNormalizer are valid no-op normalizers.
type ScriptNormalizer struct {
	script string

	mu sync.Mutex // guards cc
	cc *opencc.OpenCC
}

// NewScriptNormalizer returns a normalizer converting to script, which must
// be one of ScriptNone, ScriptTraditional or ScriptSimplified.
func NewScriptNormalizer(script string) (*ScriptNormalizer, error) {
	if script == ScriptNone {
		return &ScriptNormalizer{}, nil
	}
	profile, ok := conversions[script]
	if !ok {
		return nil, fmt.Errorf("transcript: unknown script %q (want %q or %q)", script, ScriptTraditional, ScriptSimplified)
	}
	cc, err := opencc.New(profile)
	if err != nil {
		return nil, fmt.Errorf("transcript: load opencc profile %q: %w", profile, err)
	}
	return &ScriptNormalizer{script: script, cc: cc}, nil
}

// Script returns the target script, or ScriptNone.
func (n *ScriptNormalizer) Script() string {
	if n == nil {
		return ScriptNone
	}
	return n.script
}

// Normalize converts text if language is a Chinese language (zh, yue, or a
// regional tag of either). On conversion failure the original text is
// returned together with the error.
func (n *ScriptNormalizer) Normalize(language, text string) (string, error) {
	if n == nil || n.cc == nil || !IsChinese(language) {
		return text, nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	out, err := n.cc.Convert(text)
	if err != nil {
		return text, fmt.Errorf("transcript: convert script: %w", err)
	}
	return out, nil
}

// IsChinese reports whether language names Mandarin or Cantonese.
func IsChinese(language string) bool {
	lang := strings.ToLower(language)
	if i := strings.IndexAny(lang, "-_"); i >= 0 {
		lang = lang[:i]
	}
	return lang == "zh" || lang == "yue"
}
