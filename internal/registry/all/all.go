// Package all registers every built-in registry source. Import it for side
// effects:
//
//	import _ "recon/internal/registry/all"
//
// The "file" kind is always available from package registry itself.
package all

import (
	_ "recon/internal/registry/mssql"
	_ "recon/internal/registry/mysql"
	_ "recon/internal/registry/postgres"
	_ "recon/internal/registry/sqlite"
)
