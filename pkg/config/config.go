// Package config defines the declarative configuration tree consumed
// by the engine and turns it into a ready-to-run pipeline: input
// sources, per-segment output specs, the ordered step list, and the
// scheduling options. The tree itself is parser-agnostic; LoadJSON is a
// convenience front door that also validates the document against a
// JSON Schema before decoding.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/exascience/fastq-processor/pkg/codec"
	"github.com/exascience/fastq-processor/pkg/demux"
	"github.com/exascience/fastq-processor/pkg/steps"
	"github.com/exascience/fastq-processor/pkg/writer"
)

// InputOptions configures how segment files are read.
type InputOptions struct {
	FastaFakeQuality    int    `json:"fasta_fake_quality"`
	BamIncludeMapped    bool   `json:"bam_include_mapped"`
	BamIncludeUnmapped  bool   `json:"bam_include_unmapped"`
	ReadCommentChar     string `json:"read_comment_char"`
	Interleaved         bool   `json:"interleaved"`
}

// Input is the per-segment file-list map plus shared input options.
type Input struct {
	// Segments maps a segment name ("read1", "read2", "index1", ...) to
	// the ordered list of files concatenated to form that segment's
	// stream.
	Segments map[string][]string `json:"segments"`
	Options  InputOptions        `json:"options"`
}

// Output is the resolved configuration for one output segment before
// it is turned into a writer.OutputSpec.
type Output struct {
	Prefix                 string `json:"prefix"`
	Format                 string `json:"format"` // Fastq | Fasta | BAM | None
	Compression            string `json:"compression"`
	CompressionLevel       int    `json:"compression_level"`
	Suffix                 string `json:"suffix"`
	Interleave             bool   `json:"interleave"`
	KeepIndex              bool   `json:"keep_index"`
	OutputHashCompressed   bool   `json:"output_hash_compressed"`
	OutputHashUncompressed bool   `json:"output_hash_uncompressed"`
	Stdout                 bool   `json:"stdout"`
	ChunkSize              int    `json:"chunk_size"`
	IxSeparator            string `json:"ix_separator"`
	ReportJSON             string `json:"report_json"`
	ReportHTML             string `json:"report_html"`
	ReportTiming           string `json:"report_timing"`
}

// StepConfig is one entry of the ordered step list: a discriminated
// union keyed by Action, carrying only the fields that action uses.
type StepConfig struct {
	Action string `json:"action"`

	Segment string `json:"segment,omitempty"`
	N       int    `json:"n,omitempty"`

	HeaderTemplate string `json:"header_template,omitempty"`

	Read1 string `json:"read1,omitempty"`
	Read2 string `json:"read2,omitempty"`

	MinOverlap      int     `json:"min_overlap,omitempty"`
	MaxMismatchRate float64 `json:"max_mismatch_rate,omitempty"`

	Label     string  `json:"label,omitempty"`
	Predicate string  `json:"predicate,omitempty"`
	Match     string  `json:"match,omitempty"`
	Value     float64 `json:"value,omitempty"`
	Op        string  `json:"op,omitempty"`

	Probability float64 `json:"probability,omitempty"`
	Seed        int64   `json:"seed,omitempty"`

	Path        string `json:"path,omitempty"`
	KeepMembers bool   `json:"keep_members,omitempty"`

	Threshold int `json:"threshold,omitempty"`

	Search        string `json:"search,omitempty"`
	Anchor        string `json:"anchor,omitempty"`
	MaxMismatches int    `json:"max_mismatches,omitempty"`

	Pattern string `json:"pattern,omitempty"`
	Start   int    `json:"start,omitempty"`
	Length  int    `json:"length,omitempty"`

	Alphabet  string `json:"alphabet,omitempty"`
	PhredMin  int    `json:"phred_min,omitempty"`
	PhredMax  int    `json:"phred_max,omitempty"`
	OnInvalid string `json:"on_invalid,omitempty"`

	PrefixK int `json:"prefix_k,omitempty"`

	By                   []DedupKeyConfig `json:"by,omitempty"`
	ApproximateThreshold uint64           `json:"approximate_threshold,omitempty"`
	ExpectedN            uint64           `json:"expected_n,omitempty"`
	FalsePositiveRate    float64          `json:"false_positive_rate,omitempty"`

	BarcodeSegment      string               `json:"barcode_segment,omitempty"`
	BarcodePrefixLength int                  `json:"barcode_prefix_length,omitempty"`
	BarcodeTag          string               `json:"barcode_tag,omitempty"`
	BarcodeTable        []BarcodeTableEntry  `json:"barcode_table,omitempty"`
	MaxHamming          int                  `json:"max_hamming,omitempty"`

	Segments []string `json:"segments,omitempty"`
}

// DedupKeyConfig mirrors steps.DedupKeySource in document form.
type DedupKeyConfig struct {
	Segment string `json:"segment,omitempty"`
	Tag     string `json:"tag,omitempty"`
}

// BarcodeTableEntry mirrors demux.BarcodeEntry in document form.
type BarcodeTableEntry struct {
	Barcode string `json:"barcode"`
	Bucket  string `json:"bucket"`
}

// Options are the scheduler-wide knobs.
type Options struct {
	ThreadCount            int  `json:"thread_count"`
	BlockSize              int  `json:"block_size"`
	BufferSize             int  `json:"buffer_size"`
	AcceptDuplicateFiles   bool `json:"accept_duplicate_files"`
	SpotCheckReadPairing   bool `json:"spot_check_read_pairing"`
}

// Config is the full document tree: input, per-segment outputs, the
// ordered step list, and scheduling options.
type Config struct {
	Input   Input             `json:"input"`
	Outputs map[string]Output `json:"output"`
	Steps   []StepConfig      `json:"step"`
	Options Options           `json:"options"`
}

// LoadJSON reads path, validates it against the embedded schema, and
// decodes it into a Config. Validation runs before decoding so a
// malformed document never reaches partially-applied Go defaults.
func LoadJSON(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %q: %w", path, err)
	}
	if err := validateDocument(raw); err != nil {
		return nil, fmt.Errorf("config: %q failed schema validation: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: decoding %q: %w", path, err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Options.ThreadCount <= 0 {
		cfg.Options.ThreadCount = 1
	}
	if cfg.Options.BlockSize <= 0 {
		cfg.Options.BlockSize = 10000
	}
	if cfg.Options.BufferSize <= 0 {
		cfg.Options.BufferSize = 1 << 16
	}
	for name, out := range cfg.Outputs {
		if out.Suffix == "" {
			out.Suffix = defaultSuffix(out.Format)
			cfg.Outputs[name] = out
		}
	}
}

func defaultSuffix(format string) string {
	switch strings.ToLower(format) {
	case "fasta":
		return ".fasta"
	case "bam":
		return ".bam"
	default:
		return ".fastq"
	}
}

// validateDocument compiles the embedded JSON Schema once per call and
// checks raw against it. A schema failure is a ConfigError: it is
// always raised before any input file is opened.
func validateDocument(raw []byte) error {
	sch, err := jsonschema.CompileString("fastq-processor-config.json", configSchema)
	if err != nil {
		return fmt.Errorf("config: internal schema is invalid: %w", err)
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("config: document is not valid JSON: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		return err
	}
	return nil
}

// configSchema constrains the document to the shapes this package
// understands: known top-level keys and a step list of objects that at
// minimum carry an "action" discriminator. Per-action field shapes are
// intentionally left loose here and enforced instead by BuildSteps,
// which reports precisely which step and which field is at fault.
const configSchema = `{
	"type": "object",
	"required": ["input", "output", "step"],
	"properties": {
		"input": {
			"type": "object",
			"required": ["segments"],
			"properties": {
				"segments": {
					"type": "object",
					"additionalProperties": {
						"type": "array",
						"items": {"type": "string"}
					}
				}
			}
		},
		"output": {
			"type": "object",
			"additionalProperties": {"type": "object"}
		},
		"step": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["action"],
				"properties": {
					"action": {"type": "string"}
				}
			}
		},
		"options": {"type": "object"}
	}
}`

// resolveFormat maps a document-level format string to writer.Format.
func resolveFormat(s string) (writer.Format, error) {
	switch strings.ToLower(s) {
	case "fastq", "":
		return writer.FormatFastq, nil
	case "fasta":
		return writer.FormatFasta, nil
	case "bam":
		return writer.FormatBAM, nil
	case "none":
		return writer.FormatNone, nil
	default:
		return writer.FormatNone, fmt.Errorf("config: unknown output format %q", s)
	}
}

// resolveCompression maps a document-level compression string to
// codec.Kind.
func resolveCompression(s string) (codec.Kind, error) {
	switch strings.ToLower(s) {
	case "raw", "":
		return codec.Raw, nil
	case "gzip", "gz":
		return codec.Gzip, nil
	case "zstd", "zst":
		return codec.Zstd, nil
	default:
		return codec.Raw, fmt.Errorf("config: unknown compression %q", s)
	}
}

// BuildOutputSpec turns one document Output into a writer.OutputSpec.
func BuildOutputSpec(out Output) (writer.OutputSpec, error) {
	format, err := resolveFormat(out.Format)
	if err != nil {
		return writer.OutputSpec{}, err
	}
	compression, err := resolveCompression(out.Compression)
	if err != nil {
		return writer.OutputSpec{}, err
	}
	sep := out.IxSeparator
	if sep == "" {
		sep = "_"
	}
	return writer.OutputSpec{
		Prefix:                 out.Prefix,
		Format:                 format,
		Compression:            compression,
		CompressionLevel:       out.CompressionLevel,
		Suffix:                 out.Suffix,
		Separator:              sep,
		ChunkSize:              out.ChunkSize,
		OutputHashCompressed:   out.OutputHashCompressed,
		OutputHashUncompressed: out.OutputHashUncompressed,
		KeepIndex:              out.KeepIndex,
	}, nil
}

// BuildBarcodeTable converts the document barcode table into
// demux.BarcodeEntry values.
func BuildBarcodeTable(entries []BarcodeTableEntry) []demux.BarcodeEntry {
	out := make([]demux.BarcodeEntry, len(entries))
	for i, e := range entries {
		out[i] = demux.BarcodeEntry{Barcode: []byte(e.Barcode), Bucket: e.Bucket}
	}
	return out
}

// BuildDemultiplex constructs a demux.Demultiplex from one step entry
// whose Action is "Demultiplex".
func BuildDemultiplex(sc StepConfig) (*demux.Demultiplex, error) {
	source := demux.BarcodeSource{
		Segment:      sc.BarcodeSegment,
		PrefixLength: sc.BarcodePrefixLength,
		Tag:          sc.BarcodeTag,
	}
	if source.Segment == "" && source.Tag == "" {
		return nil, fmt.Errorf("config: Demultiplex requires barcode_segment or barcode_tag")
	}
	table := BuildBarcodeTable(sc.BarcodeTable)
	return demux.NewDemultiplex(source, table, sc.MaxHamming), nil
}

func parseOnInvalid(s string) (steps.OnInvalid, error) {
	switch strings.ToLower(s) {
	case "fatal", "":
		return steps.OnInvalidFatal, nil
	case "drop":
		return steps.OnInvalidDrop, nil
	default:
		return steps.OnInvalidFatal, fmt.Errorf("config: unknown on_invalid %q", s)
	}
}

func parseAnchor(s string) (steps.Anchor, error) {
	switch strings.ToLower(s) {
	case "start", "":
		return steps.AnchorStart, nil
	case "end":
		return steps.AnchorEnd, nil
	case "anywhere":
		return steps.AnchorAnywhere, nil
	default:
		return steps.AnchorStart, fmt.Errorf("config: unknown anchor %q", s)
	}
}

func parseNumericOp(s string) (steps.NumericOp, error) {
	switch s {
	case "<":
		return steps.OpLess, nil
	case "<=":
		return steps.OpLessEqual, nil
	case ">":
		return steps.OpGreater, nil
	case ">=":
		return steps.OpGreaterEqual, nil
	case "==", "":
		return steps.OpEqual, nil
	default:
		return steps.OpEqual, fmt.Errorf("config: unknown numeric op %q", s)
	}
}

// stringPredicate builds a steps.TagPredicate from a document
// predicate name plus its comparison value, for FilterByTag.
func stringPredicate(predicate, value string) (steps.TagPredicate, error) {
	switch strings.ToLower(predicate) {
	case "equals", "":
		want := []byte(value)
		return func(b []byte) bool { return string(b) == string(want) }, nil
	case "contains":
		want := value
		return func(b []byte) bool { return strings.Contains(string(b), want) }, nil
	case "prefix":
		want := value
		return func(b []byte) bool { return strings.HasPrefix(string(b), want) }, nil
	case "nonempty":
		return func(b []byte) bool { return len(b) > 0 }, nil
	default:
		return nil, fmt.Errorf("config: unknown string predicate %q", predicate)
	}
}

func buildDedupKeys(keys []DedupKeyConfig) []steps.DedupKeySource {
	out := make([]steps.DedupKeySource, len(keys))
	for i, k := range keys {
		out[i] = steps.DedupKeySource{Segment: k.Segment, Tag: k.Tag}
	}
	return out
}

// BuildSteps converts the document step list into the engine's Step
// catalogue, resolving each StepConfig by Action. An unrecognized
// Action is a ConfigError, raised here, before any input is opened.
func BuildSteps(list []StepConfig) ([]steps.Step, error) {
	out := make([]steps.Step, 0, len(list))
	for i, sc := range list {
		st, err := buildStep(sc)
		if err != nil {
			return nil, fmt.Errorf("config: step %d (%s): %w", i, sc.Action, err)
		}
		out = append(out, st)
	}
	return out, nil
}

func buildStep(sc StepConfig) (steps.Step, error) {
	switch sc.Action {
	case "CutStart":
		return steps.NewCutStart(sc.Segment, sc.N), nil
	case "CutEnd":
		return steps.NewCutEnd(sc.Segment, sc.N), nil
	case "Truncate":
		return steps.NewTruncate(sc.Segment, sc.N), nil
	case "ReverseComplement":
		return steps.NewReverseComplement(sc.Segment), nil
	case "LowercaseSequence":
		return steps.NewLowercaseSequence(sc.Segment), nil
	case "UppercaseSequence":
		return steps.NewUppercaseSequence(sc.Segment), nil
	case "Rename":
		return steps.NewHeaderEdit(sc.Segment, steps.HeaderRename, sc.HeaderTemplate), nil
	case "Prefix":
		return steps.NewHeaderEdit(sc.Segment, steps.HeaderPrefix, sc.HeaderTemplate), nil
	case "Postfix":
		return steps.NewHeaderEdit(sc.Segment, steps.HeaderPostfix, sc.HeaderTemplate), nil
	case "MergeReads":
		return steps.NewMergeReads(sc.Read1, sc.Read2, sc.MinOverlap, sc.MaxMismatchRate), nil

	case "Head":
		return steps.NewHead(sc.N), nil
	case "Skip":
		return steps.NewSkip(sc.N), nil
	case "FilterEmpty":
		return steps.NewFilterEmpty(sc.Segment), nil
	case "FilterByTag":
		pred, err := stringPredicate(sc.Predicate, sc.Match)
		if err != nil {
			return nil, err
		}
		return steps.NewFilterByTag(sc.Label, pred), nil
	case "FilterByNumericTag":
		op, err := parseNumericOp(sc.Op)
		if err != nil {
			return nil, err
		}
		return steps.NewFilterByNumericTag(sc.Label, op, sc.Value), nil
	case "FilterByBoolTag":
		return steps.NewFilterByBoolTag(sc.Label), nil
	case "FilterSample":
		return steps.NewFilterSample(sc.Probability, sc.Seed), nil
	case "FilterReservoirSample":
		return steps.NewFilterReservoirSample(sc.N, sc.Seed), nil
	case "FilterOtherFileByName":
		return steps.NewFilterOtherFile(sc.Segment, sc.Path, steps.FilterOtherByName, sc.KeepMembers), nil
	case "FilterOtherFileBySeq":
		return steps.NewFilterOtherFile(sc.Segment, sc.Path, steps.FilterOtherBySeq, sc.KeepMembers), nil

	case "CalcLength":
		return steps.NewCalcLength(sc.Segment, sc.Label), nil
	case "CalcGCContent":
		return steps.NewCalcGCContent(sc.Segment, sc.Label), nil
	case "CalcNCount":
		return steps.NewCalcNCount(sc.Segment, sc.Label), nil
	case "CalcComplexity":
		return steps.NewCalcComplexity(sc.Segment, sc.Label), nil
	case "CalcQualifiedBases":
		return steps.NewCalcQualifiedBases(sc.Segment, sc.Label, sc.Threshold), nil
	case "CalcExpectedError":
		return steps.NewCalcExpectedError(sc.Segment, sc.Label), nil

	case "ExtractIUPAC":
		anchor, err := parseAnchor(sc.Anchor)
		if err != nil {
			return nil, err
		}
		return steps.NewExtractIUPAC(sc.Segment, []byte(sc.Search), anchor, sc.MaxMismatches, sc.Label), nil
	case "ExtractRegex":
		return steps.NewExtractRegex(sc.Segment, sc.Pattern, sc.Label)
	case "ExtractRegion":
		return steps.NewExtractRegion(sc.Segment, sc.Start, sc.Length, sc.Label), nil

	case "ValidateSeq":
		onInvalid, err := parseOnInvalid(sc.OnInvalid)
		if err != nil {
			return nil, err
		}
		return steps.NewValidateSeq(sc.Segment, sc.Alphabet, onInvalid), nil
	case "ValidateQuality":
		onInvalid, err := parseOnInvalid(sc.OnInvalid)
		if err != nil {
			return nil, err
		}
		return steps.NewValidateQuality(sc.Segment, sc.PhredMin, sc.PhredMax, onInvalid), nil

	case "Inspect":
		return steps.NewInspect(sc.Segment, sc.PrefixK), nil
	case "Report":
		return steps.NewReport(sc.Segments, sc.PrefixK), nil

	case "Dedup":
		return steps.NewDedup(buildDedupKeys(sc.By), sc.ExpectedN, sc.ApproximateThreshold), nil

	case "Demultiplex":
		return BuildDemultiplex(sc)

	default:
		return nil, fmt.Errorf("unrecognized action %q", sc.Action)
	}
}
