package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// envPrefix is the environment variable prefix for coverage-runner settings.
const envPrefix = "COVERAGE"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// manifestName is the package manifest whose "coverage" key may hold the config.
const manifestName = "package.json"

// manifestKey is the package.json key holding the config.
const manifestKey = "coverage"

// SearchPlaces are the file names searched in the project directory, in order.
// package.json is consulted last.
var SearchPlaces = []string{
	"coverage.config.json",
	"coverage.config.yaml",
	"coverage.config.yml",
	".coverage-config.json",
	".coveragerc.json",
	".coveragerc.yaml",
}

// Loader errors.
var (
	// ErrReadConfig indicates an explicit config file could not be read or decoded.
	ErrReadConfig = errors.New("read config")
	// ErrSchema indicates the document does not match the configuration schema.
	ErrSchema = errors.New("config does not match schema")
)

//go:embed schema.json
var schemaJSON []byte

// LoadConfig loads the configuration for the project in dir from the
// operating system filesystem. See Load.
func LoadConfig(dir, configPath string) (*Config, error) {
	return Load(afero.NewOsFs(), dir, configPath)
}

// Load reads configuration from configPath when set, otherwise from the
// first SearchPlaces file in dir, otherwise from the "coverage" key of
// dir/package.json. Environment variables prefixed COVERAGE_ override file
// values. A missing config is not an error; defaults are used.
func Load(fs afero.Fs, dir, configPath string) (*Config, error) {
	doc, source, findErr := findDocument(fs, dir, configPath)
	if findErr != nil {
		return nil, findErr
	}

	schemaErr := validateSchema(doc)
	if schemaErr != nil {
		return nil, fmt.Errorf("%s: %w", source, schemaErr)
	}

	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	mergeErr := viperCfg.MergeConfigMap(doc)
	if mergeErr != nil {
		return nil, fmt.Errorf("merge config: %w", mergeErr)
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	cfg.Source = source

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("mergeStrategy", StrategyMerge)
	viperCfg.SetDefault("excludePatterns", []string{})
}

// findDocument returns the raw config document and the file it came from.
func findDocument(fs afero.Fs, dir, configPath string) (map[string]any, string, error) {
	if configPath != "" {
		doc, err := readDocument(fs, configPath)
		if err != nil {
			return nil, "", fmt.Errorf("%w %s: %w", ErrReadConfig, configPath, err)
		}

		return doc, configPath, nil
	}

	for _, name := range SearchPlaces {
		path := filepath.Join(dir, name)

		exists, _ := afero.Exists(fs, path)
		if !exists {
			continue
		}

		doc, err := readDocument(fs, path)
		if err != nil {
			return nil, "", fmt.Errorf("%w %s: %w", ErrReadConfig, path, err)
		}

		return doc, path, nil
	}

	return manifestDocument(fs, filepath.Join(dir, manifestName))
}

// manifestDocument extracts the "coverage" key of a package.json. A missing
// or unparsable manifest, or one without the key, yields an empty document.
func manifestDocument(fs afero.Fs, path string) (map[string]any, string, error) {
	data, readErr := afero.ReadFile(fs, path)
	if readErr != nil {
		return map[string]any{}, "", nil
	}

	var manifest map[string]any

	decodeErr := json.Unmarshal(data, &manifest)
	if decodeErr != nil {
		return map[string]any{}, "", nil
	}

	section, ok := manifest[manifestKey]
	if !ok {
		return map[string]any{}, "", nil
	}

	doc, isObject := section.(map[string]any)
	if !isObject {
		return nil, "", fmt.Errorf("%s: %w: %q key must be an object", path, ErrSchema, manifestKey)
	}

	return doc, path, nil
}

// readDocument decodes a JSON or YAML config file.
func readDocument(fs afero.Fs, path string) (map[string]any, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}

	doc := map[string]any{}

	if strings.TrimSpace(string(data)) == "" {
		return doc, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &doc)
	default:
		err = json.Unmarshal(data, &doc)
	}

	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	return doc, nil
}

func validateSchema(doc map[string]any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSchema, err)
	}

	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, resErr := range result.Errors() {
		msgs = append(msgs, resErr.String())
	}

	return fmt.Errorf("%w: %s", ErrSchema, strings.Join(msgs, "; "))
}
