package blobstore

import (
	"errors"
	"strings"

	"github.com/foldervault/foldervault/internal/drive"
)

// ValidateKey rejects blob keys that could escape the store's namespace on disk.
// Keys are generated by the engine, so this only trips on corrupted records.
func ValidateKey(key string) error {
	if err := checkKey(key); err != nil {
		return drive.E(drive.KindInvalidArgument, "validate blob key", err)
	}
	return nil
}

func checkKey(key string) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	if strings.ContainsRune(key, 0) {
		return errors.New("null bytes not allowed")
	}
	if strings.HasPrefix(key, "/") || strings.HasPrefix(key, "\\") {
		return errors.New("absolute keys not allowed")
	}
	for _, part := range strings.FieldsFunc(key, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == "." || part == ".." {
			return errors.New("path traversal not allowed")
		}
	}
	return nil
}
