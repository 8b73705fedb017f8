// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux
// +build linux

package dataplane

import (
	"net"

	"github.com/vishvananda/netlink"

	"grimm.is/flowgate/internal/errors"
)

// ResolveInterface looks the interface up over netlink.
func ResolveInterface(name string) (Link, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return Link{}, errors.Attr(errors.Wrapf(err, errors.KindNotFound, "interface %s not found", name), "interface", name)
	}
	attrs := link.Attrs()
	return Link{
		Name:  attrs.Name,
		Index: attrs.Index,
		MTU:   attrs.MTU,
		Up:    attrs.Flags&net.FlagUp != 0,
	}, nil
}
