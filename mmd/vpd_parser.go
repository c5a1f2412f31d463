package mmd

import (
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

const vpdMagic = "Vocaloid Pose Data file"

// Pose holds a .vpd pose: a bone transform and morph weight snapshot.
type Pose struct {
	// ModelName is the parent model name, stored in the file with an
	// ".osm" suffix.
	ModelName string

	Bones  []*PoseBone
	Morphs []*PoseMorph

	// Issues collects tolerated irregularities (non-standard header,
	// declared bone count not matching the blocks present).
	Issues []*Issue
}

type PoseBone struct {
	Name     string
	Position [3]float32
	Rotation [4]float32 // quaternion x, y, z, w
}

type PoseMorph struct {
	Name   string
	Weight float32
}

var vpdBlockRe = regexp.MustCompile(`^(Bone|Morph)(\d+)\{(.*)$`)

// VPDParser is a parser for .vpd pose data, a cp932 line-oriented text
// format. The parser is lenient: LF line endings, unknown comments and a
// wrong declared count are tolerated and reported as issues.
type VPDParser struct {
	r io.Reader
}

func NewVPDParser(r io.Reader) *VPDParser {
	return &VPDParser{r: r}
}

func (p *VPDParser) Parse() (*Pose, error) {
	raw, err := io.ReadAll(p.r)
	if err != nil {
		return nil, &ParseError{Format: "vpd", Section: "body", Err: err}
	}
	utf8Data, _, err := transform.Bytes(japanese.ShiftJIS.NewDecoder(), raw)
	if err != nil {
		// Poses saved by other tools are occasionally plain UTF-8.
		utf8Data = raw
	}

	var pose Pose
	lines := splitVPDLines(string(utf8Data))
	if len(lines) == 0 {
		return nil, &ParseError{Format: "vpd", Section: "header", Err: io.ErrUnexpectedEOF}
	}

	i := 0
	if strings.HasPrefix(lines[i], vpdMagic) {
		i++
	} else {
		pose.Issues = append(pose.Issues, issuef(IssueNonStandardHeader, "header", "missing %q signature", vpdMagic))
	}

	declared := -1
	for ; i < len(lines); i++ {
		line := lines[i]
		if m := vpdBlockRe.FindStringSubmatch(line); m != nil {
			var perr error
			if m[1] == "Bone" {
				i, perr = p.parseBone(&pose, lines, i, m[3])
			} else {
				i, perr = p.parseMorph(&pose, lines, i, m[3])
			}
			if perr != nil {
				return nil, perr
			}
			continue
		}
		if strings.HasSuffix(line, ";") {
			v := strings.TrimSuffix(line, ";")
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				declared = n
			} else if pose.ModelName == "" {
				pose.ModelName = strings.TrimSuffix(v, ".osm")
			}
		}
	}

	if declared >= 0 && declared != len(pose.Bones) {
		pose.Issues = append(pose.Issues, issuef(IssueCountMismatch, "header",
			"declared %d pose bones, found %d", declared, len(pose.Bones)))
	}
	return &pose, nil
}

func (p *VPDParser) parseBone(pose *Pose, lines []string, i int, name string) (int, error) {
	b := &PoseBone{Name: strings.TrimSpace(name), Rotation: [4]float32{0, 0, 0, 1}}
	loc, i, err := p.blockValues(lines, i, 3)
	if err != nil {
		return i, err
	}
	copy(b.Position[:], loc)
	rot, i, err := p.blockValues(lines, i, 4)
	if err != nil {
		return i, err
	}
	if rot[0] != 0 || rot[1] != 0 || rot[2] != 0 || rot[3] != 0 {
		copy(b.Rotation[:], rot)
	}
	pose.Bones = append(pose.Bones, b)
	return p.blockEnd(lines, i)
}

func (p *VPDParser) parseMorph(pose *Pose, lines []string, i int, name string) (int, error) {
	m := &PoseMorph{Name: strings.TrimSpace(name)}
	w, i, err := p.blockValues(lines, i, 1)
	if err != nil {
		return i, err
	}
	m.Weight = w[0]
	pose.Morphs = append(pose.Morphs, m)
	return p.blockEnd(lines, i)
}

// blockValues reads the next line of the block as n semicolon-terminated
// comma-separated floats.
func (p *VPDParser) blockValues(lines []string, i, n int) ([]float32, int, error) {
	i++
	if i >= len(lines) {
		return nil, i, &ParseError{Format: "vpd", Section: "block", Err: io.ErrUnexpectedEOF}
	}
	parts := strings.Split(strings.TrimSuffix(lines[i], ";"), ",")
	if len(parts) != n {
		return nil, i, &ParseError{Format: "vpd", Section: "block",
			Err: errors.Errorf("expected %d values, got %d in %q", n, len(parts), lines[i])}
	}
	vals := make([]float32, n)
	for j, s := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 32)
		if err != nil {
			return nil, i, &ParseError{Format: "vpd", Section: "block", Err: err}
		}
		vals[j] = float32(v)
	}
	return vals, i, nil
}

func (p *VPDParser) blockEnd(lines []string, i int) (int, error) {
	i++
	if i >= len(lines) || !strings.HasPrefix(lines[i], "}") {
		return i, &ParseError{Format: "vpd", Section: "block", Err: errors.New("missing closing brace")}
	}
	return i, nil
}

// splitVPDLines splits on CRLF or LF, strips // comments and drops blank
// lines.
func splitVPDLines(s string) []string {
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		if idx := strings.Index(line, "//"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, strings.TrimLeft(line, " \t"))
	}
	return out
}

// ParseVPD reads a pose from r.
func ParseVPD(r io.Reader) (*Pose, error) {
	return NewVPDParser(r).Parse()
}
