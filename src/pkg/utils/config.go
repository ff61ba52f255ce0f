package utils

import (
	"errors"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Unmarshal decodes the YAML file at path into value. Fields absent from
// the file keep whatever value already holds, so callers pass defaults in.
func Unmarshal[T any](value *T, path string) (retErr error) {
	file, openFileErr := os.Open(path)
	if openFileErr != nil {
		return openFileErr
	}

	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			if retErr == nil {
				retErr = closeErr
			} else {
				retErr = errors.Join(retErr, closeErr)
			}
		}
	}()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if decodeErr := decoder.Decode(value); decodeErr != nil && !errors.Is(decodeErr, io.EOF) {
		return decodeErr
	}

	return nil
}
