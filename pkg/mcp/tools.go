package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/afero"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/merge"
	"github.com/Sumatoshi-tech/coverage-runner/pkg/report"
	"github.com/Sumatoshi-tech/coverage-runner/pkg/runners"
)

// Tool name constants.
const (
	ToolNameMerge  = "coverage_merge"
	ToolNameDetect = "coverage_detect"
)

// Input validation errors returned to the calling agent.
var (
	ErrNoPatterns      = errors.New("patterns: at least one glob or path is required")
	ErrEmptyOutputDir  = errors.New("output_dir: required")
	ErrEmptyPath       = errors.New("path: required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
)

// MergeInput is the input schema for the coverage_merge tool.
type MergeInput struct {
	Patterns       []string `json:"patterns"                  jsonschema:"glob patterns or paths of coverage files (lcov, cobertura xml, istanbul json)"`
	OutputDir      string   `json:"output_dir"                jsonschema:"directory receiving the merged reports"`
	BaseDir        string   `json:"base_dir,omitempty"        jsonschema:"absolute directory relative patterns resolve against (default: server cwd)"`
	Formats        []string `json:"formats,omitempty"         jsonschema:"output formats: json lcov text html (default: json lcov)"`
	NormalizePaths bool     `json:"normalize_paths,omitempty" jsonschema:"collapse equivalent path spellings"`
	RootDir        string   `json:"root_dir,omitempty"        jsonschema:"root that absolute paths are made relative to when normalizing"`
	Exclude        []string `json:"exclude,omitempty"         jsonschema:"glob patterns of source files to drop"`
}

// DetectInput is the input schema for the coverage_detect tool.
type DetectInput struct {
	Path string `json:"path" jsonschema:"absolute path of a directory containing package.json"`
}

// DetectOutput lists detected runners.
type DetectOutput struct {
	Path    string   `json:"path"`
	Runners []string `json:"runners"`
}

// ToolOutput carries the structured payload of a successful call.
type ToolOutput struct {
	Data any `json:"data"`
}

// failure reports err to the client as a tool-level error rather than a
// protocol error, so the agent can read the message and correct its input.
func failure(err error) (*mcpsdk.CallToolResult, ToolOutput, error) {
	result := &mcpsdk.CallToolResult{IsError: true}
	result.Content = append(result.Content, &mcpsdk.TextContent{Text: err.Error()})

	return result, ToolOutput{}, nil
}

// success returns value both as indented JSON text and as structured output.
func success(value any) (*mcpsdk.CallToolResult, ToolOutput, error) {
	text, marshalErr := json.MarshalIndent(value, "", "  ")
	if marshalErr != nil {
		return failure(fmt.Errorf("encode result: %w", marshalErr))
	}

	result := &mcpsdk.CallToolResult{}
	result.Content = append(result.Content, &mcpsdk.TextContent{Text: string(text)})

	return result, ToolOutput{Data: value}, nil
}

func (s *Server) handleMerge(
	ctx context.Context,
	_ *mcpsdk.CallToolRequest,
	input MergeInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	opts, err := mergeOptions(input)
	if err != nil {
		return failure(err)
	}

	res := merge.New(s.fs, s.logger, merge.WithTracer(s.tracer)).Run(ctx, opts)
	if !res.Success {
		return failure(errors.New(res.Error))
	}

	return success(res)
}

func mergeOptions(input MergeInput) (merge.Options, error) {
	if len(input.Patterns) == 0 {
		return merge.Options{}, ErrNoPatterns
	}

	if input.OutputDir == "" {
		return merge.Options{}, ErrEmptyOutputDir
	}

	if input.BaseDir != "" && !filepath.IsAbs(input.BaseDir) {
		return merge.Options{}, fmt.Errorf("%w: base_dir %s", ErrPathNotAbsolute, input.BaseDir)
	}

	formats := make([]report.Format, 0, len(input.Formats))

	for _, name := range input.Formats {
		f, err := report.ParseFormat(name)
		if err != nil {
			return merge.Options{}, err
		}

		formats = append(formats, f)
	}

	return merge.Options{
		InputPatterns:   input.Patterns,
		OutputDir:       input.OutputDir,
		Formats:         formats,
		NormalizePaths:  input.NormalizePaths,
		RootDir:         input.RootDir,
		ExcludePatterns: input.Exclude,
		BaseDir:         input.BaseDir,
	}, nil
}

func (s *Server) handleDetect(
	_ context.Context,
	_ *mcpsdk.CallToolRequest,
	input DetectInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if input.Path == "" {
		return failure(ErrEmptyPath)
	}

	if !filepath.IsAbs(input.Path) {
		return failure(fmt.Errorf("%w: %s", ErrPathNotAbsolute, input.Path))
	}

	exists, _ := afero.DirExists(s.fs, input.Path)
	if !exists {
		return failure(fmt.Errorf("directory %s does not exist", input.Path))
	}

	out := DetectOutput{Path: input.Path, Runners: []string{}}
	for _, kind := range runners.DetectFromDir(s.fs, input.Path) {
		out.Runners = append(out.Runners, string(kind))
	}

	return success(out)
}
