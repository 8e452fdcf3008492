package tools

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const maxSearchResults = 200

// GlobTool lists workspace files matching a glob pattern. `**` matches
// across directory separators.
type GlobTool struct {
	workspace string
}

func NewGlobTool(workspace string) *GlobTool {
	return &GlobTool{workspace: workspace}
}

func (t *GlobTool) Name() string { return "glob" }
func (t *GlobTool) Description() string {
	return "Find files matching a glob pattern (e.g. **/*.go), relative to the workspace"
}
func (t *GlobTool) Schema() Schema {
	return ObjectSchema(map[string]PropertyDef{
		"pattern": {Type: "string", Description: "Glob pattern to match file paths against"},
	}, "pattern")
}

func (t *GlobTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return ErrorResult("pattern is required")
	}
	if !doublestar.ValidatePattern(pattern) {
		return ErrorResult(fmt.Sprintf("invalid glob pattern: %s", pattern))
	}

	var matches []string
	err := filepath.WalkDir(t.workspace, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(t.workspace, path)
		if relErr != nil {
			return nil
		}
		if ok, _ := doublestar.Match(pattern, filepath.ToSlash(rel)); ok {
			matches = append(matches, rel)
		}
		if len(matches) >= maxSearchResults {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return ErrorResult(fmt.Sprintf("glob failed: %v", err))
	}

	if len(matches) == 0 {
		return NewResult("no files matched")
	}
	sort.Strings(matches)
	return NewResult(strings.Join(matches, "\n"))
}

// GrepTool searches workspace file contents with a regular expression.
type GrepTool struct {
	workspace string
}

func NewGrepTool(workspace string) *GrepTool {
	return &GrepTool{workspace: workspace}
}

func (t *GrepTool) Name() string { return "grep" }
func (t *GrepTool) Description() string {
	return "Search file contents for a regular expression; returns path:line:text matches"
}
func (t *GrepTool) Schema() Schema {
	return ObjectSchema(map[string]PropertyDef{
		"pattern": {Type: "string", Description: "Regular expression to search for"},
		"glob":    {Type: "string", Description: "Optional glob to filter which files are searched"},
	}, "pattern")
}

func (t *GrepTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	pattern, _ := args["pattern"].(string)
	fileGlob, _ := args["glob"].(string)
	if pattern == "" {
		return ErrorResult("pattern is required")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid regular expression: %v", err))
	}
	if fileGlob != "" && !doublestar.ValidatePattern(fileGlob) {
		return ErrorResult(fmt.Sprintf("invalid glob pattern: %s", fileGlob))
	}

	var lines []string
	walkErr := filepath.WalkDir(t.workspace, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(t.workspace, path)
		if relErr != nil {
			return nil
		}
		if fileGlob != "" {
			if ok, _ := doublestar.Match(fileGlob, filepath.ToSlash(rel)); !ok {
				return nil
			}
		}
		lines = append(lines, grepFile(path, rel, re, maxSearchResults-len(lines))...)
		if len(lines) >= maxSearchResults {
			return filepath.SkipAll
		}
		return nil
	})
	if walkErr != nil {
		return ErrorResult(fmt.Sprintf("search failed: %v", walkErr))
	}

	if len(lines) == 0 {
		return NewResult("no matches")
	}
	return NewResult(strings.Join(lines, "\n"))
}

func grepFile(path, rel string, re *regexp.Regexp, limit int) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() && len(out) < limit {
		lineNo++
		line := scanner.Text()
		// Skip binary-looking content.
		if strings.ContainsRune(line, '\x00') {
			return out
		}
		if re.MatchString(line) {
			out = append(out, fmt.Sprintf("%s:%d:%s", rel, lineNo, line))
		}
	}
	return out
}
