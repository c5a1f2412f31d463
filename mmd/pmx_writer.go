package mmd

import (
	"io"

	"github.com/binzume/mmdio/geom"
	"github.com/pkg/errors"
)

var zeroVector4 geom.Vector4

// PMXWriter serializes a Document as .pmx binary data.
type PMXWriter struct {
	baseWriter
	info   []byte
	omitEn bool
}

func NewPMXWriter(w io.Writer) *PMXWriter {
	return &PMXWriter{baseWriter: baseWriter{w: w}}
}

func (w *PMXWriter) attr(attrTyp int) byte {
	if attrTyp < len(w.info) {
		return w.info[attrTyp]
	}
	return 0
}

func (w *PMXWriter) writeIndex(attrTyp int, v int) {
	w.writeVInt(w.attr(attrTyp), v)
}

func (w *PMXWriter) writeUIndex(attrTyp int, v int) {
	w.writeVUInt(w.attr(attrTyp), v)
}

func (w *PMXWriter) writeText(s string) {
	var data []byte
	if w.attr(AttrStringEncoding) == EncodingUTF16 {
		data = encodeUTF16(s)
	} else {
		data = []byte(s)
	}
	w.writeInt(len(data))
	w.writeBytes(data)
}

func (w *PMXWriter) writeTextEn(s string) {
	if w.omitEn {
		s = ""
	}
	w.writeText(s)
}

func (w *PMXWriter) writeVertex(v *Vertex, extUV int) {
	w.write(&v.Pos)
	w.write(&v.Normal)
	w.write(&v.UV)
	for i := 0; i < extUV; i++ {
		if i < len(v.ExtUVs) {
			w.write(&v.ExtUVs[i])
		} else {
			w.write(&zeroVector4)
		}
	}

	w.writeUint8(v.WeightType)
	switch v.WeightType {
	case WeightBDEF1:
		w.writeIndex(AttrBoneIndexSz, v.bone(0))
	case WeightBDEF2:
		w.writeIndex(AttrBoneIndexSz, v.bone(0))
		w.writeIndex(AttrBoneIndexSz, v.bone(1))
		w.writeFloat(v.weight(0))
	case WeightBDEF4, WeightQDEF:
		for i := 0; i < 4; i++ {
			w.writeIndex(AttrBoneIndexSz, v.bone(i))
		}
		for i := 0; i < 4; i++ {
			w.writeFloat(v.weight(i))
		}
	case WeightSDEF:
		w.writeIndex(AttrBoneIndexSz, v.bone(0))
		w.writeIndex(AttrBoneIndexSz, v.bone(1))
		w.writeFloat(v.weight(0))
		sdef := v.SDEF
		if sdef == nil {
			sdef = &SDEF{}
		}
		w.write(&sdef.C)
		w.write(&sdef.R0)
		w.write(&sdef.R1)
	default:
		w.fail(errors.Errorf("unknown weight kind %d", v.WeightType))
	}
	w.writeFloat(v.EdgeScale)
}

func (w *PMXWriter) writeMaterial(m *Material) {
	w.writeText(m.Name)
	w.writeTextEn(m.NameEn)
	w.write(&m.Color)
	w.write(&m.Specular)
	w.write(&m.Specularity)
	w.write(&m.AColor)
	w.write(&m.Flags)
	w.write(&m.EdgeColor)
	w.write(&m.EdgeScale)
	w.writeIndex(AttrTexIndexSz, m.TextureID)
	w.writeIndex(AttrTexIndexSz, m.EnvID)
	w.write(&m.EnvMode)
	w.write(&m.ToonType)
	if m.ToonType == 0 {
		w.writeIndex(AttrTexIndexSz, m.Toon)
	} else {
		w.writeUint8(uint8(m.Toon))
	}
	w.writeText(m.Memo)
	w.writeInt(m.Count)
}

func (w *PMXWriter) writeBone(b *Bone) {
	w.writeText(b.Name)
	w.writeTextEn(b.NameEn)
	w.write(&b.Pos)
	w.writeIndex(AttrBoneIndexSz, b.ParentID)
	w.writeInt(b.Layer)
	w.write(&b.Flags)

	if b.Flags&BoneFlagTailIndex != 0 {
		w.writeIndex(AttrBoneIndexSz, b.TailID)
	} else {
		w.write(&b.TailPos)
	}

	if b.Flags&(BoneFlagInheritRotation|BoneFlagInheritTranslation) != 0 {
		w.writeIndex(AttrBoneIndexSz, b.InheritParentID)
		w.writeFloat(b.InheritParentInfluence)
	}

	if b.Flags&BoneFlagFixedAxis != 0 {
		w.write(&b.FixedAxis)
	}

	if b.Flags&BoneFlagLocalAxis != 0 {
		w.write(&b.LocalAxisX)
		w.write(&b.LocalAxisZ)
	}

	if b.Flags&BoneFlagExternalParent != 0 {
		w.writeInt(b.ExternalParentKey)
	}

	if b.Flags&BoneFlagEnableIK != 0 {
		w.writeIndex(AttrBoneIndexSz, b.IK.TargetID)
		w.writeInt(b.IK.Loop)
		w.writeFloat(b.IK.LimitRad)
		w.writeInt(len(b.IK.Links))
		for _, l := range b.IK.Links {
			w.writeIndex(AttrBoneIndexSz, l.TargetID)
			if l.HasLimit {
				w.writeUint8(1)
				w.write(&l.LimitMin)
				w.write(&l.LimitMax)
			} else {
				w.writeUint8(0)
			}
		}
	}
}

func (w *PMXWriter) writeMorph(m *Morph) {
	w.writeText(m.Name)
	w.writeTextEn(m.NameEn)
	w.writeUint8(m.PanelType)
	w.writeUint8(m.MorphType)

	switch m.MorphType {
	case MorphTypeGroup:
		w.writeInt(len(m.Group))
		for _, v := range m.Group {
			w.writeIndex(AttrMorphIndexSz, v.Target)
			w.writeFloat(v.Weight)
		}
	case MorphTypeVertex:
		w.writeInt(len(m.Vertex))
		for _, v := range m.Vertex {
			w.writeUIndex(AttrVertIndexSz, v.Target)
			w.write(&v.Offset)
		}
	case MorphTypeBone:
		w.writeInt(len(m.Bone))
		for _, v := range m.Bone {
			w.writeIndex(AttrBoneIndexSz, v.Target)
			w.write(&v.Offset)
			w.write(&v.Rotation)
		}
	case MorphTypeUV, MorphTypeExtUV1, MorphTypeExtUV2, MorphTypeExtUV3, MorphTypeExtUV4:
		w.writeInt(len(m.UV))
		for _, v := range m.UV {
			w.writeUIndex(AttrVertIndexSz, v.Target)
			w.write(&v.Value)
		}
	case MorphTypeMaterial:
		w.writeInt(len(m.Material))
		for _, v := range m.Material {
			w.writeIndex(AttrMatIndexSz, v.Target)
			w.write(&v.Flags)
			w.write(&v.Diffuse)
			w.write(&v.Specular)
			w.write(&v.Specularity)
			w.write(&v.Ambient)
			w.write(&v.EdgeColor)
			w.write(&v.EdgeSize)
			w.write(&v.TextureTint)
			w.write(&v.EnvironmentTint)
			w.write(&v.ToonTint)
		}
	case MorphTypeFlip:
		w.writeInt(len(m.Flip))
		for _, v := range m.Flip {
			w.writeIndex(AttrMorphIndexSz, v.Target)
			w.writeFloat(v.Weight)
		}
	case MorphTypeImpulse:
		w.writeInt(len(m.Impulse))
		for _, v := range m.Impulse {
			w.writeIndex(AttrRBIndexSz, v.Target)
			w.writeBool(v.Local)
			w.write(&v.Velocity)
			w.write(&v.Torque)
		}
	default:
		w.fail(errors.Errorf("unknown morph kind %d", m.MorphType))
	}
}

func (w *PMXWriter) writeDisplayFrame(d *DisplayFrame) {
	w.writeText(d.Name)
	w.writeTextEn(d.NameEn)
	w.writeBool(d.Special)
	w.writeInt(len(d.Elements))
	for _, e := range d.Elements {
		w.writeBool(e.IsMorph)
		if e.IsMorph {
			w.writeIndex(AttrMorphIndexSz, e.Index)
		} else {
			w.writeIndex(AttrBoneIndexSz, e.Index)
		}
	}
}

func (w *PMXWriter) writeRigidBody(r *RigidBody) {
	w.writeText(r.Name)
	w.writeTextEn(r.NameEn)
	w.writeIndex(AttrBoneIndexSz, r.BoneID)
	w.write(&r.Group)
	w.write(&r.GroupMask)
	w.write(&r.Shape)
	w.write(&r.Size)
	w.write(&r.Pos)
	w.write(&r.Rot)
	w.write(&r.Mass)
	w.write(&r.LinearDamping)
	w.write(&r.AngularDamping)
	w.write(&r.Restitution)
	w.write(&r.Friction)
	w.write(&r.Mode)
}

func (w *PMXWriter) writeJoint(j *Joint) {
	w.writeText(j.Name)
	w.writeTextEn(j.NameEn)
	w.write(&j.Type)
	w.writeIndex(AttrRBIndexSz, j.BodyA)
	w.writeIndex(AttrRBIndexSz, j.BodyB)
	w.write(&j.Pos)
	w.write(&j.Rot)
	w.write(&j.LinearLower)
	w.write(&j.LinearUpper)
	w.write(&j.AngularLower)
	w.write(&j.AngularUpper)
	w.write(&j.LinearSpring)
	w.write(&j.AngularSpring)
}

func (w *PMXWriter) writeSoftBody(s *SoftBody) {
	w.writeText(s.Name)
	w.writeTextEn(s.NameEn)
	w.write(&s.Shape)
	w.writeIndex(AttrMatIndexSz, s.MaterialID)
	w.write(&s.Group)
	w.write(&s.GroupMask)
	w.write(&s.Flags)
	w.writeInt(s.BLinkDistance)
	w.writeInt(s.ClusterCount)
	w.write(&s.TotalMass)
	w.write(&s.Margin)
	w.writeInt(s.AeroModel)
	w.write(&s.Config)
	w.write(&s.Cluster)
	w.write(&s.Iteration)
	w.write(&s.Material)

	w.writeInt(len(s.Anchors))
	for _, a := range s.Anchors {
		w.writeIndex(AttrRBIndexSz, a.RigidBodyID)
		w.writeUIndex(AttrVertIndexSz, a.VertexID)
		w.writeBool(a.Near)
	}
	w.writeInt(len(s.Pins))
	for _, pin := range s.Pins {
		w.writeUIndex(AttrVertIndexSz, pin)
	}
}

func (w *PMXWriter) writeBool(v bool) {
	if v {
		w.writeUint8(1)
	} else {
		w.writeUint8(0)
	}
}

// Write serializes doc. opt may be nil for defaults; the header attribute
// table is always recomputed from the document's live element counts.
func (w *PMXWriter) Write(doc *Document, opt *ExportOptions) error {
	if opt == nil {
		opt = &ExportOptions{}
	}
	info, err := opt.headerInfo(doc)
	if err != nil {
		return err
	}
	w.info = info
	w.omitEn = opt.OmitEnglish

	version := float32(2)
	if doc.Header != nil && doc.Header.Version > 2 {
		version = doc.Header.Version
	}
	if len(doc.SoftBodies) > 0 && version < 2.1 {
		version = 2.1
	}

	w.writeBytes([]byte("PMX "))
	w.writeFloat(version)
	w.writeUint8(uint8(len(info)))
	w.writeBytes(info)

	w.writeText(doc.Name)
	w.writeTextEn(doc.NameEn)
	w.writeText(doc.Comment)
	w.writeTextEn(doc.CommentEn)

	extUV := int(info[AttrExtUV])
	w.writeInt(len(doc.Vertexes))
	for _, v := range doc.Vertexes {
		w.writeVertex(v, extUV)
	}

	w.writeInt(len(doc.Faces) * 3)
	for _, f := range doc.Faces {
		w.writeUIndex(AttrVertIndexSz, f.Verts[0])
		w.writeUIndex(AttrVertIndexSz, f.Verts[1])
		w.writeUIndex(AttrVertIndexSz, f.Verts[2])
	}

	w.writeInt(len(doc.Textures))
	for _, t := range doc.Textures {
		w.writeText(t)
	}

	w.writeInt(len(doc.Materials))
	for _, m := range doc.Materials {
		w.writeMaterial(m)
	}

	w.writeInt(len(doc.Bones))
	for _, b := range doc.Bones {
		w.writeBone(b)
	}

	w.writeInt(len(doc.Morphs))
	for _, m := range doc.Morphs {
		w.writeMorph(m)
	}

	w.writeInt(len(doc.DisplayFrames))
	for _, d := range doc.DisplayFrames {
		w.writeDisplayFrame(d)
	}

	w.writeInt(len(doc.RigidBodies))
	for _, r := range doc.RigidBodies {
		w.writeRigidBody(r)
	}

	w.writeInt(len(doc.Joints))
	for _, j := range doc.Joints {
		w.writeJoint(j)
	}

	if version > 2 {
		w.writeInt(len(doc.SoftBodies))
		for _, s := range doc.SoftBodies {
			w.writeSoftBody(s)
		}
	}

	return w.err
}

// WritePMX serializes doc as PMX with default options.
func WritePMX(doc *Document, w io.Writer) error {
	return NewPMXWriter(w).Write(doc, nil)
}
