// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package testutil

import (
	"os"
	"testing"
)

// RequireVM skips the test if the FLOWGATE_VM_TEST environment variable is not set.
// Tests that need real kernel capabilities (nfqueue, nftables, bpffs, raw sockets)
// only run in the privileged test VM.
func RequireVM(t *testing.T) {
	t.Helper()
	if os.Getenv("FLOWGATE_VM_TEST") == "" {
		t.Skip("Skipping test: requires FLOWGATE_VM_TEST environment")
	}
}
