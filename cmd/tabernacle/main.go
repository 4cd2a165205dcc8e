// Command tabernacle scaffolds projects and migrations and runs
// conformance scenarios. It carries no migration units of its own; build a
// binary that imports your migrations package and calls tabernacle.Main to
// apply them.
package main

import "github.com/tabernacleorm/tabernacle"

func main() {
	tabernacle.Main()
}
