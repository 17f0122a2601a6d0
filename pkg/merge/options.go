package merge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/report"
)

// ErrInvalidOptions indicates Options failed validation.
var ErrInvalidOptions = errors.New("invalid merge options")

var validate = validator.New()

// Options configures one merge run.
type Options struct {
	// InputPatterns are glob patterns, absolute or relative to BaseDir.
	InputPatterns []string `validate:"required,min=1,dive,required"`
	// OutputDir receives the written reports.
	OutputDir string `validate:"required"`
	// Formats to write. Empty means json and lcov.
	Formats []report.Format `validate:"dive,oneof=json lcov text html"`
	// JSONOnly restricts output to json, overriding Formats.
	JSONOnly bool
	// NormalizePaths canonicalizes keys, relative to RootDir when set.
	NormalizePaths bool
	RootDir        string
	// ExcludePatterns drop matching keys after normalization.
	ExcludePatterns []string
	// TextDetailed also writes the detailed text report.
	TextDetailed bool
	// Workers bounds parallel loading. Zero or one loads sequentially.
	Workers int `validate:"gte=0,lte=256"`
	// BaseDir resolves relative patterns. Empty means the working directory.
	BaseDir string
}

// formats resolves the effective output formats.
func (o Options) formats() []report.Format {
	if o.JSONOnly {
		return []report.Format{report.FormatJSON}
	}

	if len(o.Formats) == 0 {
		return []report.Format{report.FormatJSON, report.FormatLCOV}
	}

	return o.Formats
}

// Validate checks required fields and enum values.
func (o Options) Validate() error {
	err := validate.Struct(o)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}

	return fmt.Errorf("%w: %s", ErrInvalidOptions, strings.Join(msgs, "; "))
}
