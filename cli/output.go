package cli

import (
	"fmt"
	"io"
	"slices"

	"facette.io/natsort"
)

// PrintIDs writes a heading and one id per line in natural order.
func PrintIDs(w io.Writer, heading string, ids []string) error {
	sorted := slices.Clone(ids)
	natsort.Sort(sorted)

	if _, err := fmt.Fprintf(w, "%s: %d\n", heading, len(sorted)); err != nil {
		return err
	}

	for _, id := range sorted {
		if _, err := fmt.Fprintf(w, "  %s\n", id); err != nil {
			return err
		}
	}

	return nil
}
