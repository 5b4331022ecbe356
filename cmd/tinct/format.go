package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// formatClassificationText formats a classification as a header line
// followed by aligned span columns.
func formatClassificationText(w io.Writer, c CLIClassification) {
	fmt.Fprintf(w, "%s (%s) %s [%d..%d) source=%s\n",
		c.File, c.Language, c.Checksum, c.Start, c.Start+c.Length, c.Source)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tSTART\tLENGTH")
	for _, s := range c.Spans {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", s.Type, s.Start, s.Length)
	}
	tw.Flush()
}

// formatPersistStatsText formats write-behind counts as one line.
func formatPersistStatsText(w io.Writer, s CLIPersistStats) {
	fmt.Fprintf(w, "%s (%s): %d written, %d skipped, %d failed in %dms\n",
		s.Project, s.Root, s.Written, s.Skipped, s.Failed, s.DurationMS)
}

// writeResultText dispatches to the appropriate text formatter based on the
// result type.
func writeResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case CLIClassification:
		formatClassificationText(w, v)
	case CLIPersistStats:
		formatPersistStatsText(w, v)
	case CLIStats:
		fmt.Fprintf(w, "%s: %d streams, %d for %s\n", v.Backend, v.Streams, v.Documents, v.Project)
	case CLIPurge:
		fmt.Fprintf(w, "%s: deleted %d\n", v.Backend, v.Deleted)
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	return nil
}

// writeResult encodes result to w in the given format.
func writeResult(w io.Writer, format string, result CLIResult) error {
	switch format {
	case "text":
		return writeResultText(w, result)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(result); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
}

// outputResult writes result to stdout in the --format selected.
func outputResult(result CLIResult) error {
	return writeResult(os.Stdout, flagFormat, result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. Structured formats write a CLIResult envelope to
// stdout; text mode writes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	_ = writeResult(os.Stdout, flagFormat, CLIResult{Command: command, Error: err.Error()})
	return err
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text", "yaml"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be one of %s", format, strings.Join(validFormats, ", "))
}
