//go:build !libmpv && !beep

package media

import "errors"

func NewElement() (Element, error) {
	return nil, errors.New("no audio backend is enabled; build with -tags libmpv or -tags beep")
}
