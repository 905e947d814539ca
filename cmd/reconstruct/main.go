/**
 * Reconstruct - offline structure reconstruction
 *
 * Reads a saved recognition response (file argument or stdin) and prints
 * the reconstructed document as JSON.
 *
 *   reconstruct response.json
 *   aws textract analyze-document ... | reconstruct
 */

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/adverant/nexus/docextract-worker/internal/processor"
)

func main() {
	compact := flag.Bool("compact", false, "print the document on a single line")
	flag.Parse()

	if err := run(flag.Arg(0), *compact, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "reconstruct:", err)
		os.Exit(1)
	}
}

func run(path string, compact bool, stdin io.Reader, stdout io.Writer) error {
	input := stdin

	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		input = f
	}

	data, err := io.ReadAll(input)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	graph, err := processor.ParseBlockGraph(data)
	if err != nil {
		return err
	}

	doc, err := processor.NewStructureReconstructor().Reconstruct(graph)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetEscapeHTML(false)

	if !compact {
		enc.SetIndent("", "  ")
	}

	return enc.Encode(doc)
}
