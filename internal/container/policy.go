package container

import (
	"fmt"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"

	"github.com/felixgeelhaar/goalrun/internal/errors"
)

// ImagePolicy decides which images containers may run
type ImagePolicy struct {
	// Allowlist holds exact references or prefixes ending in "*". Empty
	// allows every valid reference.
	Allowlist []string
}

// Check validates the reference and enforces the allowlist. A pattern
// matches the image as written or its fully qualified form, so "alpine:*"
// and "index.docker.io/library/alpine:*" are both honored.
func (p ImagePolicy) Check(image string) error {
	ref, err := name.ParseReference(image)
	if err != nil {
		return errors.Wrap(errors.ErrCodeContainerPolicy, fmt.Sprintf("invalid image reference %q", image), err)
	}
	if len(p.Allowlist) == 0 {
		return nil
	}

	candidates := []string{image, ref.Name(), ref.Context().Name()}
	for _, pattern := range p.Allowlist {
		for _, c := range candidates {
			if matchesImagePattern(c, pattern) {
				return nil
			}
		}
	}
	return errors.NewImageDeniedError(image)
}

// matchesImagePattern supports exact matches and trailing wildcards
func matchesImagePattern(image, pattern string) bool {
	if image == pattern {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(image, strings.TrimSuffix(pattern, "*"))
	}
	return false
}
