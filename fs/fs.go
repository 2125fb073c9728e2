// Package appfs holds the files embedded in every binary: SQL migrations and e-mail templates.
package appfs

import "embed"

//go:embed migrations templates
var FS embed.FS
