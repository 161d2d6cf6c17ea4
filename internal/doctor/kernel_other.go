//go:build !linux

package doctor

import "errors"

func unameRelease() (string, error) {
	return "", errors.ErrUnsupported
}
