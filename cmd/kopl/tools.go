package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jllopis/kopl/pkg/tools"
)

func runTools(flags globalFlags, args []string) {
	if len(args) > 0 {
		fatal(fmt.Errorf("unexpected args: %v", args))
	}
	if flags.JSON {
		fmt.Println(string(tools.CatalogJSON()))
		return
	}
	printToolList(os.Stdout)
}

func printToolList(w io.Writer) {
	tw := newTabWriterTo(w)
	writeRow(tw, "TOOL", "PARAMETERS", "DESCRIPTION")
	for _, spec := range tools.Catalog() {
		params := make([]string, 0, len(spec.RequiredParameters))
		for _, p := range spec.RequiredParameters {
			params = append(params, p.Name)
		}
		writeRow(tw, spec.Name, strings.Join(params, ","), truncateMessage(spec.Description, 70))
	}
	_ = tw.Flush()
}
