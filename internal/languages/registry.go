// Package languages exposes the immutable Language Catalog: an O(1) lookup
// from language id to its compile/run recipe, seeded once at process start.
package languages

import (
	"sync"

	"github.com/itstheanurag/executioner/internal/domain"
)

type Registry struct {
	mu        sync.RWMutex
	languages map[int]domain.Language
}

func NewRegistry() *Registry {
	r := &Registry{
		languages: make(map[int]domain.Language),
	}
	r.registerDefaults()
	return r
}

func (r *Registry) Register(lang domain.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.languages[lang.ID] = lang
}

func (r *Registry) Get(id int) (domain.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lang, ok := r.languages[id]
	return lang, ok
}

func (r *Registry) List() []domain.Language {
	r.mu.RLock()
	defer r.mu.RUnlock()
	langs := make([]domain.Language, 0, len(r.languages))
	for _, l := range r.languages {
		langs = append(langs, l)
	}
	return langs
}

func (r *Registry) registerDefaults() {
	r.Register(domain.Language{
		ID:             1,
		Name:           "Python",
		Version:        "3.11.4",
		SourceFilename: "solution.py",
		Image:          "python:3.11-slim",
		RunCmd:         []string{"python3", "solution.py"},
	})

	r.Register(domain.Language{
		ID:             2,
		Name:           "C",
		Version:        "GCC 13.2.0",
		SourceFilename: "solution.c",
		Image:          "gcc:13",
		CompileCmd:     []string{"gcc", "-O2", "-o", "solution", "solution.c"},
		RunCmd:         []string{"./solution"},
	})

	r.Register(domain.Language{
		ID:             3,
		Name:           "C++",
		Version:        "GCC 13.2.0",
		SourceFilename: "solution.cpp",
		Image:          "gcc:13",
		CompileCmd:     []string{"g++", "-O2", "-std=c++20", "-o", "solution", "solution.cpp"},
		RunCmd:         []string{"./solution"},
	})

	r.Register(domain.Language{
		ID:             4,
		Name:           "Java",
		Version:        "OpenJDK 21",
		SourceFilename: "Main.java",
		Image:          "eclipse-temurin:21-jdk",
		CompileCmd:     []string{"javac", "-d", ".", "Main.java"},
		RunCmd:         []string{"java", "Main"},
	})

	r.Register(domain.Language{
		ID:             5,
		Name:           "JavaScript",
		Version:        "Node.js 20",
		SourceFilename: "solution.js",
		Image:          "node:20-slim",
		RunCmd:         []string{"node", "solution.js"},
	})

	r.Register(domain.Language{
		ID:             6,
		Name:           "Go",
		Version:        "1.22",
		SourceFilename: "solution.go",
		Image:          "golang:1.22",
		CompileCmd:     []string{"go", "build", "-o", "solution", "solution.go"},
		RunCmd:         []string{"./solution"},
	})
}
