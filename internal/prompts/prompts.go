// Package prompts holds the prompt texts sent to the model and the starter
// project templates returned to the browser client. All of them are embedded
// in the binary.
package prompts

import (
	"embed"
	"fmt"
	"strings"
)

// Project types the classifier may answer with.
const (
	ProjectReact = "react"
	ProjectNode  = "node"
)

// ClassifySystemPrompt instructs the model to answer with a single project type.
const ClassifySystemPrompt = "Return either node or react based on what do you think this project should be. " +
	"Only return a single word either 'node' or 'react'. Do not return anything extra"

//go:embed templates/*.md
var templateFS embed.FS

var (
	basePrompt   = mustRead("base.md")
	systemPrompt = mustRead("system.md")
	templates    = map[string]string{
		ProjectReact: mustRead("react.md"),
		ProjectNode:  mustRead("node.md"),
	}
)

func mustRead(name string) string {
	data, err := templateFS.ReadFile("templates/" + name)
	if err != nil {
		panic(fmt.Sprintf("prompts: missing embedded template %s: %v", name, err))
	}
	return strings.TrimRight(string(data), "\n")
}

// Base returns the design guidance prepended for UI projects.
func Base() string {
	return basePrompt
}

// System returns the system prompt for chat completions.
func System() string {
	return systemPrompt
}

// Template returns the starter files for a project type.
func Template(projectType string) (string, bool) {
	t, ok := templates[projectType]
	return t, ok
}

// Artifact wraps a project template in the preamble the model expects when
// it is shown the current file system.
func Artifact(template string) string {
	return "Here is an artifact that contains all files of the project visible to you.\n" +
		"Consider the contents of ALL files in the project.\n\n" +
		template +
		"\n\nHere is a list of files that exist on the file system but are not being shown to you:\n\n" +
		"  - .gitignore\n  - package-lock.json\n"
}

// Bundle is the prompt set returned for a classified project.
type Bundle struct {
	Prompts   []string
	UIPrompts []string
}

// ForProject returns the prompt bundle for a project type. React projects
// also get the design guidance; node projects only get their files.
func ForProject(projectType string) (Bundle, bool) {
	tpl, ok := Template(projectType)
	if !ok {
		return Bundle{}, false
	}

	b := Bundle{
		Prompts:   []string{Artifact(tpl)},
		UIPrompts: []string{tpl},
	}
	if projectType == ProjectReact {
		b.Prompts = append([]string{Base()}, b.Prompts...)
	}
	return b, true
}
