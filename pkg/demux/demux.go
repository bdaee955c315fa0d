// Package demux implements tag-driven fan-out: assigning each molecule
// to a bucket by Hamming-tolerant barcode matching against a static
// table resolved at pipeline-construction time.
package demux

import (
	"fmt"

	"github.com/exascience/fastq-processor/pkg/block"
	"github.com/exascience/fastq-processor/pkg/iupac"
	"github.com/exascience/fastq-processor/pkg/molecule"
	"github.com/exascience/fastq-processor/pkg/steps"
)

// NoBarcodeBucket is the canonical name of the fallback bucket used
// when no barcode matches closely enough, or a match is ambiguous.
const NoBarcodeBucket = "no-barcode"

// BarcodeSource names where Demultiplex reads the barcode value from:
// either a fixed-length prefix of a segment, or a previously extracted
// location tag.
type BarcodeSource struct {
	Segment      string // prefix mode
	PrefixLength int
	Tag          string // location-tag mode; mutually exclusive with Segment
}

// BarcodeEntry maps one expected barcode sequence to its bucket name.
type BarcodeEntry struct {
	Barcode []byte
	Bucket  string
}

// Demultiplex assigns each molecule to an output bucket. Buckets are
// identified by name; BucketIndex resolves a molecule.Molecule.Bucket
// integer back to that name once the full bucket set (including
// NoBarcodeBucket) is known.
type Demultiplex struct {
	steps.BaseStep
	Source        BarcodeSource
	Table         []BarcodeEntry
	MaxHamming    int
	KeepNoBarcode bool

	segIdx  int
	tagIdx  int
	buckets []string // index 0 is always NoBarcodeBucket
	byName  map[string]int
}

func NewDemultiplex(source BarcodeSource, table []BarcodeEntry, maxHamming int) *Demultiplex {
	return &Demultiplex{Source: source, Table: table, MaxHamming: maxHamming, KeepNoBarcode: true}
}

func (d *Demultiplex) Name() string { return "Demultiplex" }

// Init resolves the barcode source and builds the canonical bucket
// index table, including the no-barcode fallback at index 0.
func (d *Demultiplex) Init(ctx *steps.InitContext) error {
	switch {
	case d.Source.Segment != "":
		d.segIdx = ctx.SegmentIndex(d.Source.Segment)
		if d.segIdx < 0 {
			return fmt.Errorf("Demultiplex: unknown segment %q", d.Source.Segment)
		}
		d.tagIdx = -1
	case d.Source.Tag != "":
		idx, err := ctx.Registry.RequireKind(d.Source.Tag, d.Name(), molecule.TagLocation)
		if err != nil {
			return err
		}
		d.tagIdx = idx
		d.segIdx = -1
	default:
		return fmt.Errorf("Demultiplex: barcode source must name a segment or a tag")
	}

	d.byName = map[string]int{NoBarcodeBucket: 0}
	d.buckets = []string{NoBarcodeBucket}
	for _, entry := range d.Table {
		if d.Source.Segment != "" && len(entry.Barcode) != d.Source.PrefixLength {
			return fmt.Errorf("Demultiplex: barcode %q length %d does not match configured prefix length %d",
				entry.Bucket, len(entry.Barcode), d.Source.PrefixLength)
		}
		if _, ok := d.byName[entry.Bucket]; !ok {
			d.byName[entry.Bucket] = len(d.buckets)
			d.buckets = append(d.buckets, entry.Bucket)
		}
	}
	return nil
}

// Buckets returns the canonical ordered bucket names, index 0 being
// NoBarcodeBucket, matching the integers stored in Molecule.Bucket.
func (d *Demultiplex) Buckets() []string { return d.buckets }

func (d *Demultiplex) Capabilities() steps.Capabilities { return steps.Capabilities{ParallelSafe: true} }

func (d *Demultiplex) TransformBlock(blk *block.Block, _ steps.RuntimeContext) error {
	for _, m := range blk.Molecules {
		if !m.Keep {
			continue
		}
		var observed []byte
		if d.segIdx >= 0 {
			seg := &m.Segments[d.segIdx]
			n := d.Source.PrefixLength
			if n > len(seg.Sequence) {
				n = len(seg.Sequence)
			}
			observed = seg.Sequence[:n]
		} else {
			observed = m.Tag(d.tagIdx).Location.CapturedBytes
		}
		m.Bucket = d.assign(observed)
	}
	return nil
}

// assign finds the closest barcode by Hamming distance. A molecule is
// assigned to a bucket only if the best distance is <= MaxHamming and
// strictly closer than the second-best; ties fall back to no-barcode.
func (d *Demultiplex) assign(observed []byte) int {
	bestDist, secondDist := -1, -1
	bestBucket := ""
	for _, entry := range d.Table {
		dist := iupac.Hamming(entry.Barcode, observed)
		if bestDist < 0 || dist < bestDist {
			secondDist = bestDist
			bestDist, bestBucket = dist, entry.Bucket
		} else if secondDist < 0 || dist < secondDist {
			secondDist = dist
		}
	}
	if bestDist < 0 || bestDist > d.MaxHamming {
		return 0
	}
	if secondDist >= 0 && secondDist <= bestDist {
		return 0
	}
	return d.byName[bestBucket]
}
