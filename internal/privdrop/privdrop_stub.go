//go:build !linux

package privdrop

import "errors"

func Drop(_, _ int) error {
	return errors.New("privilege drop is only supported on linux")
}

func Verify(_, _ int) error {
	return errors.New("privilege drop is only supported on linux")
}
