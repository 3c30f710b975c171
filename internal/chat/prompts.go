package chat

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v2"
)

const DefaultLanguage = "en"

//go:embed prompts.yaml
var promptsYaml []byte

type Prompts struct {
	RAGSystem     string `yaml:"rag_system"`
	AgentSystem   string `yaml:"agent_system"`
	ReportSummary string `yaml:"report_summary"`
	NoResponse    string `yaml:"no_response"`
	NoContext     string `yaml:"no_context"`
}

var catalog map[string]Prompts

func init() {
	if err := yaml.Unmarshal(promptsYaml, &catalog); err != nil {
		panic(fmt.Sprintf("invalid prompt catalog: %v", err))
	}
	if _, ok := catalog[DefaultLanguage]; !ok {
		panic("prompt catalog is missing the default language")
	}
}

// PromptsFor returns the prompts for language, falling back to English.
func PromptsFor(language string) Prompts {
	language = strings.ToLower(strings.TrimSpace(language))
	if len(language) > 2 {
		language = language[:2]
	}
	if p, ok := catalog[language]; ok {
		return p
	}
	return catalog[DefaultLanguage]
}

func fillTemplate(tmpl, key, value string) string {
	return strings.ReplaceAll(tmpl, "{{"+key+"}}", value)
}
