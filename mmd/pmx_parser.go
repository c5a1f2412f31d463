package mmd

import (
	"io"

	"github.com/binzume/mmdio/geom"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// PMXParser is a parser for .pmx model data (versions 2.0 and 2.1).
type PMXParser struct {
	baseParser
	header *Header
}

func NewPMXParser(r io.Reader) *PMXParser {
	return &PMXParser{baseParser: newBaseParser(r, "pmx")}
}

func (p *PMXParser) attr(attrTyp int) byte {
	if attrTyp < len(p.header.Info) {
		return p.header.Info[attrTyp]
	}
	return 0
}

func (p *PMXParser) readIndex(attrTyp int) int {
	return p.readVInt(p.attr(attrTyp))
}

func (p *PMXParser) readUIndex(attrTyp int) int {
	return p.readVUInt(p.attr(attrTyp))
}

func (p *PMXParser) readText() string {
	n := p.readInt()
	if p.err != nil {
		return ""
	}
	if n < 0 {
		p.fail(&EncodingError{Encoding: "text", Reason: "negative string length"})
		return ""
	}
	data := p.readBytes(n)
	if p.err != nil {
		return ""
	}
	if p.attr(AttrStringEncoding) == EncodingUTF16 {
		s, err := decodeUTF16(data)
		if err != nil {
			p.fail(err)
			return ""
		}
		return s
	}
	return string(data)
}

func (p *PMXParser) readHeader() error {
	p.section = "header"
	h := p.header
	if h == nil {
		h = &Header{Format: p.readBytes(4)}
		p.header = h
	}
	if p.err != nil {
		return p.err
	}
	if string(h.Format) != "PMX " {
		return p.fail(errors.New("bad magic"))
	}
	p.read(&h.Version)
	if p.err == nil && (h.Version < 2 || h.Version > 2.1) {
		p.err = &UnsupportedVersionError{Format: "pmx", Version: h.Version}
		return p.err
	}
	h.Info = p.readBytes(int(p.readUint8()))
	if p.err == nil && len(h.Info) < attrCount {
		return p.fail(errors.Errorf("header info too short: %d bytes", len(h.Info)))
	}
	return p.err
}

func (p *PMXParser) readVertex() *Vertex {
	var v Vertex
	p.read(&v.Pos)
	p.read(&v.Normal)
	p.read(&v.UV)
	if n := int(p.attr(AttrExtUV)); n > 0 {
		v.ExtUVs = make([]geom.Vector4, n)
		p.read(v.ExtUVs)
	}

	v.WeightType = p.readUint8()
	switch v.WeightType {
	case WeightBDEF1:
		v.Bones = []int{p.readIndex(AttrBoneIndexSz)}
		v.BoneWeights = []float32{1}
	case WeightBDEF2:
		v.Bones = []int{p.readIndex(AttrBoneIndexSz), p.readIndex(AttrBoneIndexSz)}
		w := p.readFloat()
		v.BoneWeights = []float32{w, 1 - w}
	case WeightBDEF4, WeightQDEF:
		v.Bones = []int{
			p.readIndex(AttrBoneIndexSz),
			p.readIndex(AttrBoneIndexSz),
			p.readIndex(AttrBoneIndexSz),
			p.readIndex(AttrBoneIndexSz),
		}
		v.BoneWeights = []float32{
			p.readFloat(),
			p.readFloat(),
			p.readFloat(),
			p.readFloat(),
		}
	case WeightSDEF:
		v.Bones = []int{p.readIndex(AttrBoneIndexSz), p.readIndex(AttrBoneIndexSz)}
		w := p.readFloat()
		v.BoneWeights = []float32{w, 1 - w}
		v.SDEF = &SDEF{}
		p.read(&v.SDEF.C)
		p.read(&v.SDEF.R0)
		p.read(&v.SDEF.R1)
	default:
		p.fail(errors.Errorf("unknown weight kind %d", v.WeightType))
	}
	v.EdgeScale = p.readFloat()
	return &v
}

func (p *PMXParser) readFace() *Face {
	var f Face
	f.Verts[0] = p.readUIndex(AttrVertIndexSz)
	f.Verts[1] = p.readUIndex(AttrVertIndexSz)
	f.Verts[2] = p.readUIndex(AttrVertIndexSz)
	return &f
}

func (p *PMXParser) readMaterial() *Material {
	var m Material
	m.Name = p.readText()
	m.NameEn = p.readText()
	p.read(&m.Color)
	p.read(&m.Specular)
	p.read(&m.Specularity)
	p.read(&m.AColor)
	p.read(&m.Flags)
	p.read(&m.EdgeColor)
	p.read(&m.EdgeScale)
	m.TextureID = p.readIndex(AttrTexIndexSz)
	m.EnvID = p.readIndex(AttrTexIndexSz)
	p.read(&m.EnvMode)
	p.read(&m.ToonType)
	if m.ToonType == 0 {
		m.Toon = p.readIndex(AttrTexIndexSz)
	} else {
		m.Toon = int(p.readUint8())
	}
	m.Memo = p.readText()
	m.Count = p.readInt()
	return &m
}

func (p *PMXParser) readBone() *Bone {
	var b Bone
	b.Name = p.readText()
	b.NameEn = p.readText()
	p.read(&b.Pos)
	b.ParentID = p.readIndex(AttrBoneIndexSz)
	b.Layer = p.readInt()
	p.read(&b.Flags)

	if unknown := b.Flags & ^BoneFlagAll; unknown != 0 && p.err == nil {
		logrus.Warnf("pmx: bone %q has unknown flags %#x", b.Name, unknown)
	}

	if b.Flags&BoneFlagTailIndex != 0 {
		b.TailID = p.readIndex(AttrBoneIndexSz)
	} else {
		b.TailID = -1
		p.read(&b.TailPos)
	}

	if b.Flags&(BoneFlagInheritRotation|BoneFlagInheritTranslation) != 0 {
		b.InheritParentID = p.readIndex(AttrBoneIndexSz)
		b.InheritParentInfluence = p.readFloat()
	}

	if b.Flags&BoneFlagFixedAxis != 0 {
		p.read(&b.FixedAxis)
	}

	if b.Flags&BoneFlagLocalAxis != 0 {
		p.read(&b.LocalAxisX)
		p.read(&b.LocalAxisZ)
	}

	if b.Flags&BoneFlagExternalParent != 0 {
		b.ExternalParentKey = p.readInt()
	}

	if b.Flags&BoneFlagEnableIK != 0 {
		b.IK.TargetID = p.readIndex(AttrBoneIndexSz)
		b.IK.Loop = p.readInt()
		b.IK.LimitRad = p.readFloat()
		links := p.readCount()
		for i := 0; i < links && p.err == nil; i++ {
			var l Link
			l.TargetID = p.readIndex(AttrBoneIndexSz)
			l.HasLimit = p.readUint8() != 0
			if l.HasLimit {
				p.read(&l.LimitMin)
				p.read(&l.LimitMax)
			}
			b.IK.Links = append(b.IK.Links, &l)
		}
	}

	return &b
}

func (p *PMXParser) readMorph() *Morph {
	var m Morph
	m.Name = p.readText()
	m.NameEn = p.readText()
	m.PanelType = p.readUint8()
	m.MorphType = p.readUint8()

	n := p.readCount()
	for i := 0; i < n && p.err == nil; i++ {
		switch m.MorphType {
		case MorphTypeGroup:
			m.Group = append(m.Group, &MorphGroup{
				Target: p.readIndex(AttrMorphIndexSz),
				Weight: p.readFloat(),
			})
		case MorphTypeVertex:
			var v MorphVertex
			v.Target = p.readUIndex(AttrVertIndexSz)
			p.read(&v.Offset)
			m.Vertex = append(m.Vertex, &v)
		case MorphTypeBone:
			var v MorphBone
			v.Target = p.readIndex(AttrBoneIndexSz)
			p.read(&v.Offset)
			p.read(&v.Rotation)
			m.Bone = append(m.Bone, &v)
		case MorphTypeUV, MorphTypeExtUV1, MorphTypeExtUV2, MorphTypeExtUV3, MorphTypeExtUV4:
			var v MorphUV
			v.Target = p.readUIndex(AttrVertIndexSz)
			p.read(&v.Value)
			m.UV = append(m.UV, &v)
		case MorphTypeMaterial:
			var v MorphMaterial
			v.Target = p.readIndex(AttrMatIndexSz)
			p.read(&v.Flags)
			p.read(&v.Diffuse)
			p.read(&v.Specular)
			p.read(&v.Specularity)
			p.read(&v.Ambient)
			p.read(&v.EdgeColor)
			p.read(&v.EdgeSize)
			p.read(&v.TextureTint)
			p.read(&v.EnvironmentTint)
			p.read(&v.ToonTint)
			m.Material = append(m.Material, &v)
		case MorphTypeFlip:
			m.Flip = append(m.Flip, &MorphGroup{
				Target: p.readIndex(AttrMorphIndexSz),
				Weight: p.readFloat(),
			})
		case MorphTypeImpulse:
			var v MorphImpulse
			v.Target = p.readIndex(AttrRBIndexSz)
			v.Local = p.readUint8() != 0
			p.read(&v.Velocity)
			p.read(&v.Torque)
			m.Impulse = append(m.Impulse, &v)
		default:
			p.fail(errors.Errorf("unknown morph kind %d", m.MorphType))
		}
	}

	return &m
}

func (p *PMXParser) readDisplayFrame() *DisplayFrame {
	var d DisplayFrame
	d.Name = p.readText()
	d.NameEn = p.readText()
	d.Special = p.readUint8() != 0
	n := p.readCount()
	for i := 0; i < n && p.err == nil; i++ {
		var e DisplayElement
		e.IsMorph = p.readUint8() != 0
		if e.IsMorph {
			e.Index = p.readIndex(AttrMorphIndexSz)
		} else {
			e.Index = p.readIndex(AttrBoneIndexSz)
		}
		d.Elements = append(d.Elements, &e)
	}
	return &d
}

func (p *PMXParser) readRigidBody() *RigidBody {
	var r RigidBody
	r.Name = p.readText()
	r.NameEn = p.readText()
	r.BoneID = p.readIndex(AttrBoneIndexSz)
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
	return &r
}

func (p *PMXParser) readJoint() *Joint {
	var j Joint
	j.Name = p.readText()
	j.NameEn = p.readText()
	p.read(&j.Type)
	j.BodyA = p.readIndex(AttrRBIndexSz)
	j.BodyB = p.readIndex(AttrRBIndexSz)
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

func (p *PMXParser) readSoftBody() *SoftBody {
	var s SoftBody
	s.Name = p.readText()
	s.NameEn = p.readText()
	p.read(&s.Shape)
	s.MaterialID = p.readIndex(AttrMatIndexSz)
	p.read(&s.Group)
	p.read(&s.GroupMask)
	p.read(&s.Flags)
	s.BLinkDistance = p.readInt()
	s.ClusterCount = p.readInt()
	p.read(&s.TotalMass)
	p.read(&s.Margin)
	s.AeroModel = p.readInt()
	p.read(&s.Config)
	p.read(&s.Cluster)
	p.read(&s.Iteration)
	p.read(&s.Material)

	n := p.readCount()
	for i := 0; i < n && p.err == nil; i++ {
		var a SoftBodyAnchor
		a.RigidBodyID = p.readIndex(AttrRBIndexSz)
		a.VertexID = p.readUIndex(AttrVertIndexSz)
		a.Near = p.readUint8() != 0
		s.Anchors = append(s.Anchors, &a)
	}
	n = p.readCount()
	for i := 0; i < n && p.err == nil; i++ {
		s.Pins = append(s.Pins, p.readUIndex(AttrVertIndexSz))
	}
	return &s
}

// Parse reads a whole model. A structural failure returns a nil document:
// partial models are never handed back.
func (p *PMXParser) Parse() (*Document, error) {
	var doc Document

	if err := p.readHeader(); err != nil {
		return nil, err
	}
	doc.Header = p.header

	p.section = "model info"
	doc.Name = p.readText()
	doc.NameEn = p.readText()
	doc.Comment = p.readText()
	doc.CommentEn = p.readText()

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
		doc.Faces = append(doc.Faces, p.readFace())
	}

	p.section = "textures"
	n = p.readCount()
	doc.Textures = make([]string, 0, cap4(n))
	for i := 0; i < n && p.err == nil; i++ {
		doc.Textures = append(doc.Textures, p.readText())
	}

	p.section = "materials"
	n = p.readCount()
	doc.Materials = make([]*Material, 0, cap4(n))
	for i := 0; i < n && p.err == nil; i++ {
		doc.Materials = append(doc.Materials, p.readMaterial())
	}

	p.section = "bones"
	n = p.readCount()
	doc.Bones = make([]*Bone, 0, cap4(n))
	for i := 0; i < n && p.err == nil; i++ {
		doc.Bones = append(doc.Bones, p.readBone())
	}

	p.section = "morphs"
	n = p.readCount()
	doc.Morphs = make([]*Morph, 0, cap4(n))
	for i := 0; i < n && p.err == nil; i++ {
		doc.Morphs = append(doc.Morphs, p.readMorph())
	}

	p.section = "display frames"
	n = p.readCount()
	for i := 0; i < n && p.err == nil; i++ {
		doc.DisplayFrames = append(doc.DisplayFrames, p.readDisplayFrame())
	}

	p.section = "rigid bodies"
	n = p.readCount()
	for i := 0; i < n && p.err == nil; i++ {
		doc.RigidBodies = append(doc.RigidBodies, p.readRigidBody())
	}

	p.section = "joints"
	n = p.readCount()
	for i := 0; i < n && p.err == nil; i++ {
		doc.Joints = append(doc.Joints, p.readJoint())
	}

	if p.header.Version > 2 {
		p.section = "soft bodies"
		n = p.readCount()
		for i := 0; i < n && p.err == nil; i++ {
			doc.SoftBodies = append(doc.SoftBodies, p.readSoftBody())
		}
	}

	if p.err != nil {
		return nil, p.err
	}
	doc.Issues = Validate(&doc)
	return &doc, nil
}

// cap4 limits the initial capacity of count-prefixed slices so corrupted
// counts cannot allocate unbounded memory before the read fails.
func cap4(n int) int {
	if n > 1<<16 {
		return 1 << 16
	}
	return n
}

// ParsePMX reads a PMX model from r.
func ParsePMX(r io.Reader) (*Document, error) {
	return NewPMXParser(r).Parse()
}

// Parse reads a model from r, sniffing the PMX or PMD magic.
func Parse(r io.Reader) (*Document, error) {
	format := make([]byte, 4)
	if _, err := io.ReadFull(r, format[:3]); err != nil {
		return nil, &ParseError{Format: "model", Section: "header", Offset: 0, Err: err}
	}

	if string(format[:3]) == "Pmd" {
		p := NewPMDParser(r)
		p.header = &Header{Format: append([]byte(nil), format[:3]...)}
		return p.Parse()
	}
	if _, err := io.ReadFull(r, format[3:]); err != nil {
		return nil, &ParseError{Format: "model", Section: "header", Offset: 3, Err: err}
	}
	p := NewPMXParser(r)
	p.header = &Header{Format: format}
	return p.Parse()
}
