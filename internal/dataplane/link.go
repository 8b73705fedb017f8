// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dataplane

// Link is a resolved network interface.
type Link struct {
	Name  string
	Index int
	MTU   int
	Up    bool
}
