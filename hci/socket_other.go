//go:build !linux
// +build !linux

package hci

import (
	"io"

	"github.com/pkg/errors"
)

// OpenSocket is only available on linux.
func OpenSocket(id int) (io.ReadWriteCloser, error) {
	return nil, errors.New("hci user channel requires linux")
}
