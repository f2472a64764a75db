//go:build !linux

package rowsource

import "os"

func adviseSequential(*os.File) {}
