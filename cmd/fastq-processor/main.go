// Command fastq-processor runs a declaratively configured FASTQ/FASTA/BAM
// processing pipeline: a JSON configuration document names the input
// segments, the ordered step list, and the output segments; this binary
// wires those into pkg/pipeline and drives one run to completion.
package main

import (
	"bufio"
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/exascience/fastq-processor/internal/xlog"
	"github.com/exascience/fastq-processor/pkg/block"
	"github.com/exascience/fastq-processor/pkg/codec"
	"github.com/exascience/fastq-processor/pkg/config"
	"github.com/exascience/fastq-processor/pkg/demux"
	"github.com/exascience/fastq-processor/pkg/pipeline"
	"github.com/exascience/fastq-processor/pkg/reader"
	"github.com/exascience/fastq-processor/pkg/report"
	"github.com/exascience/fastq-processor/pkg/tagstore"
	"github.com/exascience/fastq-processor/pkg/writer"
)

func main() {
	configPath := flag.String("config", "", "path to the pipeline configuration JSON document")
	flag.Parse()
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: fastq-processor -config <path.json>")
		os.Exit(2)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(xlog.ErrorWriter, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadJSON(configPath)
	if err != nil {
		return err
	}

	segmentNames := inputSegmentNames(cfg)

	stepList, err := config.BuildSteps(cfg.Steps)
	if err != nil {
		return err
	}

	var demultiplex *demux.Demultiplex
	for _, st := range stepList {
		if d, ok := st.(*demux.Demultiplex); ok {
			demultiplex = d
			break
		}
	}

	registry := tagstore.New()
	aggregator := report.NewAggregator(16)

	sched := &pipeline.Scheduler{
		Pool:         block.NewPool(len(segmentNames)),
		BlockSize:    cfg.Options.BlockSize,
		ThreadCount:  cfg.Options.ThreadCount,
		StepList:     stepList,
		Demux:        demultiplex,
		Aggregator:   aggregator,
		Registry:     registry,
		SegmentNames: segmentNames,
	}

	// Resolve every tag reference and definition before touching the
	// filesystem, so a ConfigError (duplicate label, undefined tag) is
	// raised before any input file is opened.
	if err := sched.Init(); err != nil {
		return err
	}

	var bucketNames []string
	if demultiplex != nil {
		bucketNames = demultiplex.Buckets()
	}

	builder, _, err := buildRecordBuilder(cfg)
	if err != nil {
		return err
	}
	defer builder.Close()
	sched.Builder = builder

	writers, err := buildWriters(cfg, segmentNames, bucketNames)
	if err != nil {
		return err
	}
	sched.Writers = writers

	if err := sched.Run(); err != nil {
		return err
	}

	return writeReports(cfg, aggregator)
}

// inputSegmentNames returns the configured input segment names in
// sorted order, without opening any file.
func inputSegmentNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Input.Segments))
	for name := range cfg.Input.Segments {
		names = append(names, name)
	}
	sortStrings(names)
	return names
}

// buildRecordBuilder opens every configured input segment and returns a
// RecordBuilder zipping them in sorted segment-name order (the same order
// inputSegmentNames returns). When
// options.interleaved is set, the segments share one physical source
// split by stride (see pkg/reader.NewInterleaveSource) instead of each
// opening its own file list.
func buildRecordBuilder(cfg *config.Config) (*reader.RecordBuilder, []string, error) {
	names := inputSegmentNames(cfg)

	var sources []reader.SegmentSource
	if cfg.Input.Options.Interleaved {
		if len(names) == 0 {
			return nil, nil, fmt.Errorf("interleaved input requires at least one segment")
		}
		sr, err := openSegmentReader(cfg.Input.Segments[names[0]], cfg.Input.Options)
		if err != nil {
			return nil, nil, fmt.Errorf("opening interleaved source: %w", err)
		}
		sources = reader.NewInterleaveSource(sr, names)
	} else {
		sources = make([]reader.SegmentSource, 0, len(names))
		for _, name := range names {
			sr, err := openSegmentReader(cfg.Input.Segments[name], cfg.Input.Options)
			if err != nil {
				return nil, nil, fmt.Errorf("opening segment %q: %w", name, err)
			}
			sources = append(sources, reader.SegmentSource{Name: name, Reader: sr})
		}
	}

	commentChar := byte(' ')
	if cfg.Input.Options.ReadCommentChar != "" {
		commentChar = cfg.Input.Options.ReadCommentChar[0]
	}
	spotCheck := reader.SpotCheckConfig{Enabled: cfg.Options.SpotCheckReadPairing}
	return reader.NewRecordBuilder(sources, commentChar, spotCheck), names, nil
}

// openSegmentReader opens one segment's file list as a SegmentReader,
// sniffing the record shape (FASTQ, FASTA, or BAM) from the first
// file's content rather than its name.
func openSegmentReader(paths []string, opts config.InputOptions) (reader.SegmentReader, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files configured")
	}
	isBam, isFasta, err := sniffSegmentFormat(paths[0])
	if err != nil {
		return nil, fmt.Errorf("detecting format of %q: %w", paths[0], err)
	}
	if isBam {
		f, err := os.Open(paths[0])
		if err != nil {
			return nil, err
		}
		br, err := reader.NewBamReader(f, opts.BamIncludeMapped, opts.BamIncludeUnmapped)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		return &bamSegmentReader{f: f, br: br}, nil
	}

	cr, err := codec.NewConcatReader(paths, nil)
	if err != nil {
		return nil, err
	}
	bufferSize := 64 * 1024
	if isFasta {
		return reader.NewFastaReader(cr, bufferSize, opts.FastaFakeQuality), nil
	}
	return reader.NewFastqReader(cr, bufferSize), nil
}

// bamMagic is the uncompressed BAM header magic, found as the first
// bytes of the payload once a (bgzf-compatible) gzip stream is
// decompressed.
var bamMagic = []byte("BAM\x01")

// sniffSegmentFormat peeks the first decompressed bytes of path to
// decide its record shape, mirroring loadAuxiliarySet's content
// detection in pkg/steps/filters.go: BAM's "BAM\x01" magic, '>' for
// FASTA, anything else defaults to FASTQ.
func sniffSegmentFormat(path string) (isBam, isFasta bool, err error) {
	rc, _, err := codec.OpenAuto(path, nil)
	if err != nil {
		return false, false, err
	}
	defer rc.Close()

	peek := bufio.NewReader(rc)
	head, err := peek.Peek(len(bamMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return false, false, err
	}
	if bytes.Equal(head, bamMagic) {
		return true, false, nil
	}

	first, err := peek.Peek(1)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return false, false, nil
		}
		return false, false, err
	}
	return false, first[0] == '>', nil
}

// bamSegmentReader closes both the BAM record reader and the
// underlying file handle, since reader.BamReader only owns the former.
type bamSegmentReader struct {
	f  *os.File
	br *reader.BamReader
}

func (b *bamSegmentReader) Next() (reader.RawRecord, error) { return b.br.Next() }

func (b *bamSegmentReader) Close() error {
	err := b.br.Close()
	if cerr := b.f.Close(); err == nil {
		err = cerr
	}
	return err
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// buildWriters constructs one writer.Sink per configured output
// segment, wired to the canonical bucket set when demultiplexing is
// configured. Outputs sharing a prefix and Interleave: true are
// combined into a single writer.InterleavedWriter instead of one
// writer.Writer each.
func buildWriters(cfg *config.Config, segmentNames, bucketNames []string) ([]writer.Sink, error) {
	segIndex := func(segment string) (int, error) {
		for i, n := range segmentNames {
			if n == segment {
				return i, nil
			}
		}
		return -1, fmt.Errorf("no matching input segment")
	}

	type interleaveGroup struct {
		spec     writer.OutputSpec
		segments []string
	}
	groups := map[string]*interleaveGroup{}

	names := make([]string, 0, len(cfg.Outputs))
	for segment := range cfg.Outputs {
		names = append(names, segment)
	}
	sortStrings(names)

	var sinks []writer.Sink
	for _, segment := range names {
		out := cfg.Outputs[segment]
		spec, err := config.BuildOutputSpec(out)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", segment, err)
		}
		if spec.Format == writer.FormatNone {
			continue
		}
		if _, err := segIndex(segment); err != nil {
			return nil, fmt.Errorf("output %q: %w", segment, err)
		}
		if out.Interleave {
			g, ok := groups[out.Prefix]
			if !ok {
				g = &interleaveGroup{spec: spec}
				groups[out.Prefix] = g
			}
			g.segments = append(g.segments, segment)
			continue
		}
		segIdx, _ := segIndex(segment)
		sinks = append(sinks, writer.NewWriter(spec, segment, segIdx, bucketNames))
	}

	for _, g := range groups {
		segIdxs := make([]int, len(g.segments))
		for i, s := range g.segments {
			idx, _ := segIndex(s)
			segIdxs[i] = idx
		}
		sinks = append(sinks, writer.NewInterleavedWriter(g.spec, g.segments, segIdxs, bucketNames))
	}
	return sinks, nil
}

// writeReports drains the aggregator and writes the configured JSON,
// HTML, and timing side files.
func writeReports(cfg *config.Config, agg *report.Aggregator) error {
	snap := agg.Snapshot()
	for _, out := range cfg.Outputs {
		if out.ReportJSON != "" {
			if err := report.WriteJSON(out.ReportJSON, snap); err != nil {
				return err
			}
		}
		if out.ReportHTML != "" {
			if err := report.WriteHTML(out.ReportHTML, snap); err != nil {
				return err
			}
		}
		if out.ReportTiming != "" {
			if err := report.WriteTimingJSON(out.ReportTiming, snap.Timings); err != nil {
				return err
			}
		}
	}
	return nil
}
