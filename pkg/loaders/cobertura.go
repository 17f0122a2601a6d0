package loaders

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/coverage"
)

// coberturaRoot is the document element of a Cobertura report.
const coberturaRoot = "coverage"

var (
	errMalformedLine   = errors.New("malformed <line> element")
	errTrailingContent = errors.New("content after the root element")
)

type coberturaDocument struct {
	XMLName  xml.Name
	Packages []coberturaPackage `xml:"packages>package"`
}

type coberturaPackage struct {
	Name    string           `xml:"name,attr"`
	Classes []coberturaClass `xml:"classes>class"`
}

type coberturaClass struct {
	Name     string          `xml:"name,attr"`
	Filename string          `xml:"filename,attr"`
	Lines    []coberturaLine `xml:"lines>line"`
}

type coberturaLine struct {
	Number string `xml:"number,attr"`
	Hits   string `xml:"hits,attr"`
}

// LoadCobertura loads a Cobertura XML report. Only line data is modeled.
func (l *Loader) LoadCobertura(path string) (*coverage.CoverageMap, error) {
	data, readErr := l.readInput(path, FormatCobertura)
	if readErr != nil {
		return nil, readErr
	}

	if data == nil {
		return coverage.New(), nil
	}

	cm, parseErr := ParseCobertura(bytes.NewReader(data))
	if parseErr != nil {
		return nil, parseError(path, parseErr)
	}

	if cm.Len() == 0 {
		l.logger.Debug("no coverage data in cobertura report", "path", path)
	}

	return cm, nil
}

// ParseCobertura decodes a Cobertura document from r. Each <class> becomes a
// record keyed by its filename attribute (or name when filename is absent);
// each of its <line> elements becomes one statement. Documents declaring a
// non-UTF-8 encoding are transcoded.
func ParseCobertura(r io.Reader) (*coverage.CoverageMap, error) {
	var doc coberturaDocument

	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = charset.NewReaderLabel

	decodeErr := decoder.Decode(&doc)
	if decodeErr != nil {
		return nil, fmt.Errorf("decode xml: %w", decodeErr)
	}

	trailingErr := checkTrailing(decoder)
	if trailingErr != nil {
		return nil, trailingErr
	}

	cm := coverage.New()

	if doc.XMLName.Local != coberturaRoot {
		return cm, nil
	}

	for _, pkg := range doc.Packages {
		for _, class := range pkg.Classes {
			fc, classErr := classCoverage(class)
			if classErr != nil {
				return nil, classErr
			}

			if fc == nil {
				continue
			}

			addErr := cm.AddFileCoverage(fc)
			if addErr != nil {
				return nil, addErr
			}
		}
	}

	return cm, nil
}

// checkTrailing allows only whitespace, comments and processing
// instructions after the root element.
func checkTrailing(decoder *xml.Decoder) error {
	for {
		tok, tokErr := decoder.Token()
		if errors.Is(tokErr, io.EOF) {
			return nil
		}

		if tokErr != nil {
			return fmt.Errorf("decode xml: %w", tokErr)
		}

		switch t := tok.(type) {
		case xml.Comment, xml.ProcInst:
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				return errTrailingContent
			}
		default:
			return errTrailingContent
		}
	}
}

func classCoverage(class coberturaClass) (*coverage.FileCoverage, error) {
	fileName := class.Filename
	if fileName == "" {
		fileName = class.Name
	}

	if fileName == "" {
		return nil, nil
	}

	fc := coverage.NewFileCoverage(fileName)

	for _, line := range class.Lines {
		number, numErr := strconv.Atoi(strings.TrimSpace(line.Number))
		if numErr != nil {
			return nil, fmt.Errorf("%w in %s: number=%q", errMalformedLine, fileName, line.Number)
		}

		hits, hitsErr := strconv.Atoi(strings.TrimSpace(line.Hits))
		if hitsErr != nil || hits < 0 {
			return nil, fmt.Errorf("%w in %s: hits=%q", errMalformedLine, fileName, line.Hits)
		}

		fc.AddStatement(coverage.LineRange(number), hits)
	}

	return fc, nil
}
