// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux

package dataplane

import (
	"net"

	"grimm.is/flowgate/internal/errors"
)

// ResolveInterface looks the interface up through the standard library.
func ResolveInterface(name string) (Link, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return Link{}, errors.Attr(errors.Wrapf(err, errors.KindNotFound, "interface %s not found", name), "interface", name)
	}
	return Link{Name: ifi.Name, Index: ifi.Index, MTU: ifi.MTU, Up: ifi.Flags&net.FlagUp != 0}, nil
}
