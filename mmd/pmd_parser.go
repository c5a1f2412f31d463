package mmd

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/binzume/mmdio/geom"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// PMD bone kind bytes (legacy format).
const (
	PMDBoneRotate uint8 = iota
	PMDBoneRotateMove
	PMDBoneIK
	PMDBoneUnknown
	PMDBoneIKFollow
	PMDBoneRotateFollow
	PMDBoneIKTarget
	PMDBoneInvisible
	PMDBoneTwist
	PMDBoneTwistFollow
)

// PMDParser is a parser for .pmd model data (legacy fixed-schema format).
type PMDParser struct {
	baseParser
	header *Header
}

func NewPMDParser(r io.Reader) *PMDParser {
	return &PMDParser{baseParser: newBaseParser(r, "pmd")}
}

func (p *PMDParser) readHeader() error {
	p.section = "header"
	h := p.header
	if h == nil {
		h = &Header{Format: p.readBytes(3)}
		p.header = h
	}
	if p.err != nil {
		return p.err
	}
	if string(h.Format) != "Pmd" {
		return p.fail(errors.New("bad magic"))
	}
	p.read(&h.Version)
	if p.err == nil && h.Version != 1 {
		p.err = &UnsupportedVersionError{Format: "pmd", Version: h.Version}
	}
	return p.err
}

func (p *PMDParser) readVertex() *Vertex {
	var v Vertex
	p.read(&v.Pos)
	p.read(&v.Normal)
	p.read(&v.UV)

	v.Bones = []int{p.readVInt(2), p.readVInt(2)}
	w := float32(p.readUint8()) / 100
	v.BoneWeights = []float32{w, 1 - w}
	v.WeightType = WeightBDEF2
	if p.readUint8() != 0 { // non-edge flag
		v.EdgeScale = 0
	} else {
		v.EdgeScale = 1
	}
	return &v
}

func (p *PMDParser) readMaterial(doc *Document, i int) *Material {
	var m Material
	m.Name = fmt.Sprintf("mat%d", i+1)
	p.read(&m.Color)
	p.read(&m.Specularity)
	p.read(&m.Specular)
	p.read(&m.AColor)
	m.ToonType = 1
	m.Toon = int(int8(p.readUint8()))
	edge := p.readUint8()
	m.Count = p.readInt()

	// The texture field packs "texture*sphere" into 20 bytes.
	tex := strings.SplitN(p.readCString(20), "*", 2)
	m.TextureID = -1
	m.EnvID = -1
	if tex[0] != "" {
		if strings.HasSuffix(strings.ToLower(tex[0]), ".sph") || strings.HasSuffix(strings.ToLower(tex[0]), ".spa") {
			tex = append([]string{""}, tex[0])
		} else {
			m.TextureID = internTexture(doc, tex[0])
		}
	}
	if len(tex) > 1 && tex[1] != "" {
		m.EnvID = internTexture(doc, tex[1])
		if strings.HasSuffix(strings.ToLower(tex[1]), ".spa") {
			m.EnvMode = 2 // add
		} else {
			m.EnvMode = 1 // multiply
		}
	}

	if edge != 0 {
		m.Flags |= MaterialFlagDrawEdge | MaterialFlagGroundShadow
	}
	if m.Color.W < 1 {
		m.Flags |= MaterialFlagDoubleSided
	}
	return &m
}

func internTexture(doc *Document, name string) int {
	for i, t := range doc.Textures {
		if t == name {
			return i
		}
	}
	doc.Textures = append(doc.Textures, name)
	return len(doc.Textures) - 1
}

func (p *PMDParser) readBone(ext *PMDExtension) *Bone {
	var b Bone
	b.Name = p.readCString(20)
	b.ParentID = p.readVInt(2)
	b.TailID = p.readVInt(2)
	if b.TailID == 0 {
		b.TailID = -1
	}
	kind := p.readUint8()
	companion := p.readVInt(2)
	p.read(&b.Pos)

	ext.BoneKinds = append(ext.BoneKinds, kind)
	ext.IKParents = append(ext.IKParents, companion)

	b.Flags = BoneFlagTailIndex | BoneFlagRotatable | BoneFlagVisible | BoneFlagEnabled
	switch kind {
	case PMDBoneRotateMove, PMDBoneIK:
		b.Flags |= BoneFlagTranslatable
	case PMDBoneInvisible, PMDBoneIKTarget, PMDBoneTwistFollow:
		b.Flags &^= BoneFlagVisible
	case PMDBoneRotateFollow:
		b.Flags |= BoneFlagInheritRotation
		b.InheritParentID = companion
		b.InheritParentInfluence = 1
	}
	return &b
}

func (p *PMDParser) readMorph() *Morph {
	var m Morph
	m.Name = p.readCString(20)
	n := p.readInt()
	p.read(&m.PanelType)
	m.MorphType = MorphTypeVertex
	for i := 0; i < n && p.err == nil; i++ {
		var mv MorphVertex
		mv.Target = p.readInt()
		p.read(&mv.Offset)
		m.Vertex = append(m.Vertex, &mv)
	}
	return &m
}

// readTrailers parses the optional sections following the morph block. Old
// files end anywhere in this list; a section cut off mid-way is preserved
// verbatim in ext.Extra instead of failing the parse.
func (p *PMDParser) readTrailers(doc *Document, ext *PMDExtension) error {
	rest, err := io.ReadAll(p.r)
	if err != nil {
		return p.fail(err)
	}
	if len(rest) == 0 {
		return nil
	}

	t := &PMDParser{baseParser: newBaseParser(bytes.NewReader(rest), "pmd"), header: p.header}
	mark := int64(0)

	// Each section parses into a scratch copy committed at the next
	// checkpoint, so a section cut off mid-way leaves no partial entries
	// behind.
	scratch := *doc
	scratchExt := *ext
	checkpoint := func(section string) bool {
		if t.err != nil {
			ext.Extra = rest[mark:]
			logrus.Warnf("pmd: trailer section %q cut short, preserving %d bytes verbatim", t.section, len(ext.Extra))
			return false
		}
		*doc = scratch
		*ext = scratchExt
		doc.PMD = ext
		mark = t.r.n
		t.section = section
		return int(mark) < len(rest)
	}

	t.section = "morph display"
	n := int(t.readUint8())
	for i := 0; i < n && t.err == nil; i++ {
		scratchExt.MorphDisplay = append(scratchExt.MorphDisplay, int(t.readUint16())-1)
	}

	if !checkpoint("bone display names") {
		return nil
	}
	n = int(t.readUint8())
	for i := 0; i < n && t.err == nil; i++ {
		scratchExt.DisplayNames = append(scratchExt.DisplayNames, t.readCString(50))
	}

	if !checkpoint("bone display") {
		return nil
	}
	n = t.readCount()
	for i := 0; i < n && t.err == nil; i++ {
		scratchExt.BoneDisplay = append(scratchExt.BoneDisplay, &PMDBoneDisplay{
			BoneID: t.readVInt(2),
			Frame:  t.readUint8(),
		})
	}

	if !checkpoint("english names") {
		return nil
	}
	if t.readUint8() != 0 {
		scratchExt.EnglishBlock = true
		scratch.NameEn = t.readCString(20)
		scratch.CommentEn = t.readCString(256)
		boneEn := make([]string, len(doc.Bones))
		for i := range boneEn {
			boneEn[i] = t.readCString(20)
		}
		morphEn := make([]string, len(doc.Morphs))
		for i := range morphEn {
			morphEn[i] = t.readCString(20)
		}
		for i := 0; i < len(scratchExt.DisplayNames) && t.err == nil; i++ {
			scratchExt.DisplayNamesEn = append(scratchExt.DisplayNamesEn, t.readCString(50))
		}
		if t.err == nil {
			for i, s := range boneEn {
				doc.Bones[i].NameEn = s
			}
			for i, s := range morphEn {
				doc.Morphs[i].NameEn = s
			}
		}
	}

	if !checkpoint("toon textures") {
		return nil
	}
	for i := 0; i < len(scratchExt.ToonNames) && t.err == nil; i++ {
		scratchExt.ToonNames[i] = t.readCString(100)
	}

	if !checkpoint("rigid bodies") {
		return nil
	}
	n = t.readCount()
	for i := 0; i < n && t.err == nil; i++ {
		r := t.readRigidBody(doc)
		if t.err == nil {
			scratch.RigidBodies = append(scratch.RigidBodies, r)
		}
	}

	if !checkpoint("joints") {
		return nil
	}
	n = t.readCount()
	for i := 0; i < n && t.err == nil; i++ {
		j := t.readJoint()
		if t.err == nil {
			scratch.Joints = append(scratch.Joints, j)
		}
	}

	if !checkpoint("") {
		return nil
	}
	ext.Extra = rest[mark:]
	return nil
}

func (p *PMDParser) readRigidBody(doc *Document) *RigidBody {
	var r RigidBody
	r.Name = p.readCString(20)
	r.BoneID = p.readVInt(2)
	p.read(&r.Group)
	p.read(&r.GroupMask)
	p.read(&r.Shape)
	p.read(&r.Size)
	p.read(&r.Pos)
	p.read(&r.Rot)
	p.read(&r.Mass)
	p.read(&r.LinearDamping)
	p.read(&r.AngularDamping)
	p.read(&r.Restitution)
	p.read(&r.Friction)
	p.read(&r.Mode)

	// Legacy positions are relative to the related bone.
	if o := pmdRigidOrigin(doc, r.BoneID); o != nil {
		r.Pos = *r.Pos.Add(o)
	}
	return &r
}

// pmdRigidOrigin returns the bone position a legacy rigid body is anchored
// to: its related bone, or the center bone when it has none.
func pmdRigidOrigin(doc *Document, boneID int) *geom.Vector3 {
	if boneID >= 0 && boneID < len(doc.Bones) {
		return &doc.Bones[boneID].Pos
	}
	for _, b := range doc.Bones {
		if b.Name == "センター" {
			return &b.Pos
		}
	}
	return nil
}

func (p *PMDParser) readJoint() *Joint {
	var j Joint
	j.Name = p.readCString(20)
	j.Type = JointTypeSpring6DOF
	j.BodyA = int(int32(p.readUint32()))
	j.BodyB = int(int32(p.readUint32()))
	p.read(&j.Pos)
	p.read(&j.Rot)
	p.read(&j.LinearLower)
	p.read(&j.LinearUpper)
	p.read(&j.AngularLower)
	p.read(&j.AngularUpper)
	p.read(&j.LinearSpring)
	p.read(&j.AngularSpring)
	return &j
}

// Parse reads a whole legacy model into the shared document graph. Data the
// graph cannot express is kept in Document.PMD.
func (p *PMDParser) Parse() (*Document, error) {
	var doc Document
	ext := &PMDExtension{}
	doc.PMD = ext

	if err := p.readHeader(); err != nil {
		return nil, err
	}
	doc.Header = p.header

	p.section = "model info"
	doc.Name = p.readCString(20)
	doc.Comment = p.readCString(256)

	p.section = "vertices"
	n := p.readCount()
	doc.Vertexes = make([]*Vertex, 0, cap4(n))
	for i := 0; i < n && p.err == nil; i++ {
		doc.Vertexes = append(doc.Vertexes, p.readVertex())
	}

	p.section = "faces"
	n = p.readCount() / 3
	doc.Faces = make([]*Face, 0, cap4(n))
	for i := 0; i < n && p.err == nil; i++ {
		var f Face
		f.Verts[0] = int(p.readUint16())
		f.Verts[1] = int(p.readUint16())
		f.Verts[2] = int(p.readUint16())
		doc.Faces = append(doc.Faces, &f)
	}

	p.section = "materials"
	n = p.readCount()
	for i := 0; i < n && p.err == nil; i++ {
		doc.Materials = append(doc.Materials, p.readMaterial(&doc, i))
	}

	p.section = "bones"
	n = int(p.readUint16())
	for i := 0; i < n && p.err == nil; i++ {
		doc.Bones = append(doc.Bones, p.readBone(ext))
	}

	p.section = "ik"
	n = int(p.readUint16())
	for i := 0; i < n && p.err == nil; i++ {
		id := p.readVInt(2)
		if id < 0 || id >= len(doc.Bones) {
			p.fail(errors.Errorf("ik chain for out-of-range bone %d", id))
			break
		}
		b := doc.Bones[id]
		b.Flags |= BoneFlagEnableIK
		b.IK.TargetID = p.readVInt(2)
		links := int(p.readUint8())
		b.IK.Loop = int(p.readUint16())
		b.IK.LimitRad = p.readFloat()
		for j := 0; j < links && p.err == nil; j++ {
			l := &Link{TargetID: p.readVInt(2)}
			// MMD hardwires knee limits by bone name in the legacy format.
			if l.TargetID >= 0 && l.TargetID < len(doc.Bones) && strings.Contains(doc.Bones[l.TargetID].Name, "ひざ") {
				l.HasLimit = true
				l.LimitMin = geom.Vector3{X: -3.1415927}
				l.LimitMax = geom.Vector3{X: -0.002}
			}
			b.IK.Links = append(b.IK.Links, l)
		}
	}

	p.section = "morphs"
	n = int(p.readUint16())
	if n > 0 {
		base := p.readMorph()
		for i := 0; i < n-1 && p.err == nil; i++ {
			m := p.readMorph()
			for _, v := range m.Vertex {
				if v.Target >= 0 && v.Target < len(base.Vertex) {
					v.Target = base.Vertex[v.Target].Target
				}
			}
			doc.Morphs = append(doc.Morphs, m)
		}
	}

	if p.err != nil {
		return nil, p.err
	}
	if err := p.readTrailers(&doc, ext); err != nil {
		return nil, err
	}

	pmdDisplayFrames(&doc, ext)
	doc.Issues = Validate(&doc)
	return &doc, nil
}

// pmdDisplayFrames mirrors the legacy display data into the shared display
// frame list so converted models keep their panels.
func pmdDisplayFrames(doc *Document, ext *PMDExtension) {
	root := &DisplayFrame{Name: "Root", NameEn: "Root", Special: true}
	if len(doc.Bones) > 0 {
		root.Elements = append(root.Elements, &DisplayElement{Index: 0})
	}
	expr := &DisplayFrame{Name: "表情", NameEn: "Exp", Special: true}
	for _, m := range ext.MorphDisplay {
		expr.Elements = append(expr.Elements, &DisplayElement{IsMorph: true, Index: m})
	}
	doc.DisplayFrames = append(doc.DisplayFrames, root, expr)

	frames := make([]*DisplayFrame, len(ext.DisplayNames))
	for i, name := range ext.DisplayNames {
		frames[i] = &DisplayFrame{Name: strings.TrimRight(name, "\r\n")}
		if i < len(ext.DisplayNamesEn) {
			frames[i].NameEn = strings.TrimRight(ext.DisplayNamesEn[i], "\r\n")
		}
	}
	for _, d := range ext.BoneDisplay {
		if f := int(d.Frame) - 1; f >= 0 && f < len(frames) {
			frames[f].Elements = append(frames[f].Elements, &DisplayElement{Index: d.BoneID})
		}
	}
	doc.DisplayFrames = append(doc.DisplayFrames, frames...)
}

// ParsePMD reads a legacy PMD model from r.
func ParsePMD(r io.Reader) (*Document, error) {
	return NewPMDParser(r).Parse()
}
