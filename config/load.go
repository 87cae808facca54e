package config

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/cohesivestack/valgo"
	"gopkg.in/yaml.v3"
)

type loadConfigOptions struct {
	fs *embed.FS
}

type LoadConfigOption func(*loadConfigOptions)

func WithFS(fs embed.FS) LoadConfigOption {
	return func(o *loadConfigOptions) {
		o.fs = &fs
	}
}

// Configurable is implemented by any config struct loaded through this
// package: InitDefaults seeds defaults before the YAML/env overlay runs,
// and Validation reports whether the result is usable.
type Configurable interface {
	InitDefaults()
	Validation() *valgo.Validation
}

// Load reads configuration from a YAML file and/or environment variables
// into out, in that order (YAML first, then env overrides), then runs
// out.Validation(). Param `yamlFile` can be left empty if environment
// variables are being exclusively used.
//
// Load never exits the process — it is meant for library callers (such as
// rtx.New) that need to surface a config error to their own caller. Use
// MustLoad for CLI-style startup code that should fail fast.
func Load(yamlFile string, out Configurable, opts ...LoadConfigOption) error {
	var options loadConfigOptions
	for _, opt := range opts {
		opt(&options)
	}

	out.InitDefaults()

	if yamlFile != "" {
		var file io.ReadCloser
		var err error

		if options.fs != nil {
			file, err = options.fs.Open(yamlFile)
		} else {
			file, err = os.Open(yamlFile)
		}
		if err != nil {
			return fmt.Errorf("open config file: %w", err)
		}
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		if err = decoder.Decode(out); err != nil {
			return fmt.Errorf("decode config file: %w", err)
		}
	}

	if err := env.Parse(out); err != nil {
		return fmt.Errorf("parse config environment variables: %w", err)
	}

	if err := out.Validation().ToError(); err != nil {
		return err
	}

	return nil
}

// MustLoad behaves like Load but prints a human-readable summary of config
// errors to stderr and exits the process on failure, matching the
// fail-fast startup behavior expected of a standalone program embedding
// this config loader.
func MustLoad(yamlFile string, out Configurable, opts ...LoadConfigOption) {
	if err := Load(yamlFile, out, opts...); err != nil {
		fmt.Fprintln(os.Stderr, "Config errors:")
		var verr *valgo.Error
		if errors.As(err, &verr) {
			for _, valErr := range verr.Errors() {
				fmt.Fprintf(os.Stderr, "  %s: %s\n", valErr.Name(), strings.Join(valErr.Messages(), ","))
			}
		} else {
			fmt.Fprintln(os.Stderr, fmt.Errorf("  %s", err.Error()))
		}
		os.Exit(1)
	}
}
