package cli

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/dave/jennifer/jen"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// RootImport is the import path migration files register through.
const RootImport = "github.com/tabernacleorm/tabernacle"

var (
	migrationName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	packageName   = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	titleCaser    = cases.Title(language.Und)
)

// MigrationSource renders a migration file for unit id in package pkg. The
// file registers itself in init with empty up and down functions.
func MigrationSource(pkg, id, name string) ([]byte, error) {
	suffix := strings.TrimSuffix(id, "_"+name) + camel(name)
	up, down := "up"+suffix, "down"+suffix

	f := jen.NewFile(pkg)
	f.ImportName("context", "context")
	f.ImportName(RootImport, "tabernacle")

	f.Func().Id("init").Params().Block(
		jen.Qual(RootImport, "RegisterMigration").Call(jen.Lit(id), jen.Id(up), jen.Id(down)),
	)
	f.Line()
	f.Func().Id(up).Params(
		jen.Id("ctx").Qual("context", "Context"),
		jen.Id("s").Op("*").Qual(RootImport, "Schema"),
	).Error().Block(
		jen.Comment("s.CreateCollection(ctx, \"users\", tabernacle.String(\"name\", tabernacle.Required()))"),
		jen.Return(jen.Nil()),
	)
	f.Line()
	f.Func().Id(down).Params(
		jen.Id("ctx").Qual("context", "Context"),
		jen.Id("s").Op("*").Qual(RootImport, "Schema"),
	).Error().Block(
		jen.Return(jen.Nil()),
	)
	return render(f)
}

// PackageSource renders the doc file created by init for the migrations
// package.
func PackageSource(pkg string) ([]byte, error) {
	f := jen.NewFile(pkg)
	f.PackageComment(fmt.Sprintf("Package %s holds the migration units of this application.", pkg))
	f.PackageComment("Files are created with `tabernacle makemigrations <name>`; import the")
	f.PackageComment("package for its side effects where migrations should run.")
	return render(f)
}

func render(f *jen.File) ([]byte, error) {
	var buf bytes.Buffer
	if err := f.Render(&buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return buf.Bytes(), nil
}

// camel turns snake_case into CamelCase.
func camel(name string) string {
	var b strings.Builder
	for _, part := range strings.Split(name, "_") {
		b.WriteString(titleCaser.String(part))
	}
	return b.String()
}
