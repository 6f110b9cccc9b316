package config

import (
	"fmt"
	"os"

	"github.com/ghodss/yaml"
	goversion "github.com/hashicorp/go-version"
	"github.com/spf13/afero"

	"github.com/sidkik/foldersync/pkg/errors"
)

// parseConfigErrTemplate is a template for when the CLI fails to parse yaml
// configuration files. This can happen for a multitude of reasons, including
// extraneous fields and incorrect field types. However, the yaml library
// constructs errors in a way that loses context, and so we can only pass the
// error message on.
const parseConfigErrTemplate = "Configuration file could not be parsed. " +
	"Please review %q.\n" +
	"Common pitfalls include:\n" +
	" - Using the wrong types for fields\n" +
	" - Having extra fields inside the config file\n\n" +
	"For reference, here is the error from the parser:\n" +
	"%s"

// Mocked out for unit testing.
var fs = afero.NewOsFs()

type configInterface interface {
	getVersion() string
}

type incompatibleVersionError struct {
	path, exp, actual string
}

func (err incompatibleVersionError) Error() string {
	return err.FriendlyMessage()
}

func (err incompatibleVersionError) FriendlyMessage() string {
	return fmt.Sprintf("The configuration file %q is incompatible "+
		"with this version of foldersync.\n"+
		"Expected a version matching %q, but got %q.", err.path, err.exp, err.actual)
}

// parseConfig reads the YAML config at `path` into `config`, and checks that
// its version satisfies `versionConstraint`.
func parseConfig(path string, config configInterface, versionConstraint string) error {
	configBytes, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.FileNotFound{Path: path}
		}
		return errors.WithContext(err, "read file")
	}

	err = yaml.Unmarshal(configBytes, config)
	if err != nil {
		return errors.NewFriendlyError(parseConfigErrTemplate, path, err)
	}

	compatible, err := versionSatisfies(config.getVersion(), versionConstraint)
	if err != nil {
		return errors.WithContext(err, "check version")
	}

	if !compatible {
		return incompatibleVersionError{path, versionConstraint, config.getVersion()}
	}

	// Do a strict unmarshal to check for any extra fields. We do a non-strict
	// unmarshal first so that we can catch version errors before erroring on
	// extra fields.
	err = yaml.UnmarshalStrict(configBytes, config, yaml.DisallowUnknownFields)
	if err != nil {
		return errors.NewFriendlyError(parseConfigErrTemplate, path, err)
	}
	return nil
}

// versionSatisfies returns whether `version` matches `constraint`. Malformed
// versions never match.
func versionSatisfies(version, constraint string) (bool, error) {
	constraints, err := goversion.NewConstraint(constraint)
	if err != nil {
		return false, errors.WithContext(err, "parse constraint")
	}

	parsed, err := goversion.NewVersion(version)
	if err != nil {
		return false, nil
	}
	return constraints.Check(parsed), nil
}
