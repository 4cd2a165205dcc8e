package tabernacle

import (
	"context"
	"io"
	"os"

	"github.com/tabernacleorm/tabernacle/internal/cli"
)

// Main runs the tabernacle command line with the migrations registered in
// this process and exits. Applications build their own migration binary by
// importing their migrations package for its side effects and calling Main:
//
//	package main
//
//	import (
//		"github.com/tabernacleorm/tabernacle"
//		_ "example.com/app/migrations"
//	)
//
//	func main() { tabernacle.Main() }
func Main() {
	os.Exit(Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// Execute runs the command line with args and returns the exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	return cli.Execute(ctx, args, stdout, stderr, cli.WithMigrations(migrations))
}
