package main

import "github.com/jward/tinct"

// CLIResult is the top-level envelope for all command output.
type CLIResult struct {
	Command string `json:"command" yaml:"command"`
	Results any    `json:"results" yaml:"results"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

// CLISpan is a classified span in output form.
type CLISpan struct {
	Type   string `json:"type" yaml:"type"`
	Start  int    `json:"start" yaml:"start"`
	Length int    `json:"length" yaml:"length"`
}

// CLIClassification is the result of the classify command.
type CLIClassification struct {
	File     string    `json:"file" yaml:"file"`
	Language string    `json:"language" yaml:"language"`
	Checksum string    `json:"checksum" yaml:"checksum"`
	Source   string    `json:"source" yaml:"source"`
	Start    int       `json:"start" yaml:"start"`
	Length   int       `json:"length" yaml:"length"`
	Spans    []CLISpan `json:"spans" yaml:"spans"`
}

// CLIPersistStats is the result of the warm command and each watch batch.
type CLIPersistStats struct {
	Project    string `json:"project" yaml:"project"`
	Root       string `json:"root" yaml:"root"`
	Written    int    `json:"written" yaml:"written"`
	Skipped    int    `json:"skipped" yaml:"skipped"`
	Failed     int    `json:"failed" yaml:"failed"`
	DurationMS int64  `json:"duration_ms" yaml:"duration_ms"`
}

// CLIStats is the result of the stats command.
type CLIStats struct {
	Backend   string `json:"backend" yaml:"backend"`
	Streams   int    `json:"streams" yaml:"streams"`
	Project   string `json:"project" yaml:"project"`
	Documents int    `json:"documents" yaml:"documents"`
}

// CLIPurge is the result of the purge command.
type CLIPurge struct {
	Backend string `json:"backend" yaml:"backend"`
	Deleted int64  `json:"deleted" yaml:"deleted"`
}

func toCLIClassification(doc tinct.Document, res tinct.Result) CLIClassification {
	spans := make([]CLISpan, 0, len(res.Spans))
	for _, s := range res.Spans {
		spans = append(spans, CLISpan{Type: s.ClassificationType, Start: s.Span.Start, Length: s.Span.Length})
	}
	return CLIClassification{
		File:     doc.Key.Path,
		Language: doc.Language,
		Checksum: doc.Checksum().String(),
		Source:   string(res.Source),
		Start:    res.Tagged.Start,
		Length:   res.Tagged.Length,
		Spans:    spans,
	}
}

func toCLIPersistStats(project, root string, st tinct.PersistStats, ms int64) CLIPersistStats {
	return CLIPersistStats{
		Project:    project,
		Root:       root,
		Written:    st.Written,
		Skipped:    st.Skipped,
		Failed:     st.Failed,
		DurationMS: ms,
	}
}
