// Copyright (c) 2025, the reelherd contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package buildinfo

import "fmt"

var (
	Version = "dev"
	Commit  = ""
	Date    = ""

	// UserAgent identifies reelherd against the Real-Debrid API. The catalog
	// client uses its own rotating browser agents instead.
	UserAgent = fmt.Sprintf("reelherd/%s", Version)
)
