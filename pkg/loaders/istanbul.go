package loaders

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/coverage"
)

// istanbulDataKey wraps a serialized istanbul CoverageMap object.
const istanbulDataKey = "data"

var (
	errNotObject = errors.New("document is not a JSON object")
	errNotRecord = errors.New("not a file coverage record")
)

// LoadIstanbulJSON loads an Istanbul (or V8-converted) coverage JSON file.
func (l *Loader) LoadIstanbulJSON(path string) (*coverage.CoverageMap, error) {
	data, readErr := l.readInput(path, FormatIstanbul)
	if readErr != nil {
		return nil, readErr
	}

	if data == nil {
		return coverage.New(), nil
	}

	cm, parseErr := ParseIstanbulJSON(data)
	if parseErr != nil {
		return nil, parseError(path, parseErr)
	}

	return cm, nil
}

// ParseIstanbulJSON decodes a path-keyed object of Istanbul file records.
// A document of the form {"data": {...}} is unwrapped first. Every record
// must carry path, statementMap and s.
func ParseIstanbulJSON(data []byte) (*coverage.CoverageMap, error) {
	var doc map[string]json.RawMessage

	decodeErr := json.Unmarshal(data, &doc)
	if decodeErr != nil {
		return nil, fmt.Errorf("decode json: %w", decodeErr)
	}

	if doc == nil {
		return nil, errNotObject
	}

	doc = unwrapData(doc)

	records := make(map[string]*coverage.FileCoverage, len(doc))

	for key, raw := range doc {
		fc, recErr := decodeRecord(raw)
		if recErr != nil {
			return nil, fmt.Errorf("record %q: %w", key, recErr)
		}

		records[key] = fc
	}

	return coverage.FromData(records)
}

func unwrapData(doc map[string]json.RawMessage) map[string]json.RawMessage {
	raw, ok := doc[istanbulDataKey]
	if !ok || len(doc) != 1 || looksLikeRecord(raw) {
		return doc
	}

	var inner map[string]json.RawMessage

	if json.Unmarshal(raw, &inner) != nil || inner == nil {
		return doc
	}

	return inner
}

// recordFields picks out the fields every file coverage record carries.
type recordFields struct {
	Path         *string          `json:"path"`
	StatementMap *json.RawMessage `json:"statementMap"`
	S            *json.RawMessage `json:"s"`
}

func readRecordFields(raw json.RawMessage) (recordFields, bool) {
	var fields recordFields

	if json.Unmarshal(raw, &fields) != nil {
		return recordFields{}, false
	}

	return fields, true
}

// looksLikeRecord reports whether raw carries any record field, which keeps
// a file keyed "data" from being mistaken for a wrapper.
func looksLikeRecord(raw json.RawMessage) bool {
	fields, ok := readRecordFields(raw)

	return ok && (fields.Path != nil || fields.StatementMap != nil || fields.S != nil)
}

// missingField names the first required record field raw lacks.
func missingField(raw json.RawMessage) (string, bool) {
	fields, ok := readRecordFields(raw)
	if !ok {
		return "", true
	}

	switch {
	case fields.Path == nil || *fields.Path == "":
		return "path", true
	case fields.StatementMap == nil || isJSONNull(*fields.StatementMap):
		return "statementMap", true
	case fields.S == nil || isJSONNull(*fields.S):
		return "s", true
	default:
		return "", false
	}
}

func isJSONNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}

func decodeRecord(raw json.RawMessage) (*coverage.FileCoverage, error) {
	if field, missing := missingField(raw); missing {
		if field == "" {
			return nil, errNotRecord
		}

		return nil, fmt.Errorf("%w: missing %s", errNotRecord, field)
	}

	var fc coverage.FileCoverage

	decodeErr := json.Unmarshal(raw, &fc)
	if decodeErr != nil {
		return nil, fmt.Errorf("decode record: %w", decodeErr)
	}

	return &fc, nil
}
