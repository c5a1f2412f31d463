package mmd

import (
	"fmt"
	"io"
	"math"

	"github.com/sirupsen/logrus"
)

// PMDWriter serializes a Document as legacy .pmd binary data. Fields the
// legacy schema cannot hold (extra UVs, SDEF weights, non-vertex morphs)
// are reduced or skipped with a log warning.
type PMDWriter struct {
	baseWriter
}

func NewPMDWriter(w io.Writer) *PMDWriter {
	return &PMDWriter{baseWriter: baseWriter{w: w}}
}

func (w *PMDWriter) writeVertex(v *Vertex) {
	w.write(&v.Pos)
	w.write(&v.Normal)
	w.write(&v.UV)
	w.writeVInt(2, v.bone(0))
	w.writeVInt(2, v.bone(1))
	w.writeUint8(uint8(math.Round(float64(v.weight(0)) * 100)))
	if v.EdgeScale > 0 {
		w.writeUint8(0)
	} else {
		w.writeUint8(1)
	}
}

func (w *PMDWriter) writeMaterial(doc *Document, m *Material) {
	w.write(&m.Color)
	w.write(&m.Specularity)
	w.write(&m.Specular)
	w.write(&m.AColor)
	if m.Toon < 0 || m.Toon > 9 {
		w.writeUint8(0xff)
	} else {
		w.writeUint8(uint8(m.Toon))
	}
	if m.Flags&MaterialFlagDrawEdge != 0 {
		w.writeUint8(1)
	} else {
		w.writeUint8(0)
	}
	w.writeInt(m.Count)

	tex := textureName(doc, m.TextureID)
	if env := textureName(doc, m.EnvID); env != "" {
		tex += "*" + env
	}
	w.writeCString(tex, 20)
}

func textureName(doc *Document, id int) string {
	if id >= 0 && id < len(doc.Textures) {
		return doc.Textures[id]
	}
	return ""
}

func (w *PMDWriter) writeBone(doc *Document, i int) {
	b := doc.Bones[i]
	w.writeCString(b.Name, 20)
	w.writeVInt(2, b.ParentID)
	if b.TailID < 0 {
		w.writeVInt(2, 0)
	} else {
		w.writeVInt(2, b.TailID)
	}
	kind, companion := pmdBoneKind(doc, i)
	w.writeUint8(kind)
	w.writeVInt(2, companion)
	w.write(&b.Pos)
}

// pmdBoneKind returns the legacy kind byte and companion index for a bone,
// from the imported extension data when present, otherwise derived from the
// bone's flags.
func pmdBoneKind(doc *Document, i int) (uint8, int) {
	if ext := doc.PMD; ext != nil && i < len(ext.BoneKinds) {
		return ext.BoneKinds[i], ext.IKParents[i]
	}
	b := doc.Bones[i]
	switch {
	case b.Flags&BoneFlagEnableIK != 0:
		return PMDBoneIK, 0
	case b.Flags&BoneFlagInheritRotation != 0:
		return PMDBoneRotateFollow, b.InheritParentID
	case b.Flags&BoneFlagVisible == 0:
		return PMDBoneInvisible, 0
	case b.Flags&BoneFlagTranslatable != 0:
		return PMDBoneRotateMove, 0
	}
	return PMDBoneRotate, 0
}

// baseMorph builds the legacy base morph: every vertex touched by any
// vertex morph, carrying its rest position. Returns the base and a map
// from vertex index to its ordinal in the base list.
func baseMorph(doc *Document) (*Morph, map[int]int) {
	base := &Morph{Name: "base"}
	ord := map[int]int{}
	for _, m := range doc.Morphs {
		if m.MorphType != MorphTypeVertex {
			continue
		}
		for _, v := range m.Vertex {
			if _, ok := ord[v.Target]; ok {
				continue
			}
			ord[v.Target] = len(base.Vertex)
			mv := &MorphVertex{Target: v.Target}
			if v.Target >= 0 && v.Target < len(doc.Vertexes) {
				mv.Offset = doc.Vertexes[v.Target].Pos
			}
			base.Vertex = append(base.Vertex, mv)
		}
	}
	return base, ord
}

func (w *PMDWriter) writeMorph(m *Morph, ord map[int]int) {
	w.writeCString(m.Name, 20)
	w.writeInt(len(m.Vertex))
	w.writeUint8(m.PanelType)
	for _, v := range m.Vertex {
		w.writeInt(ord[v.Target])
		w.write(&v.Offset)
	}
}

func (w *PMDWriter) writeRigidBody(doc *Document, r *RigidBody) {
	w.writeCString(r.Name, 20)
	w.writeVInt(2, r.BoneID)
	w.write(&r.Group)
	w.write(&r.GroupMask)
	w.write(&r.Shape)
	w.write(&r.Size)
	pos := r.Pos
	if o := pmdRigidOrigin(doc, r.BoneID); o != nil {
		pos = *pos.Sub(o)
	}
	w.write(&pos)
	w.write(&r.Rot)
	w.write(&r.Mass)
	w.write(&r.LinearDamping)
	w.write(&r.AngularDamping)
	w.write(&r.Restitution)
	w.write(&r.Friction)
	w.write(&r.Mode)
}

func (w *PMDWriter) writeJoint(j *Joint) {
	w.writeCString(j.Name, 20)
	w.writeUint32(uint32(j.BodyA))
	w.writeUint32(uint32(j.BodyB))
	w.write(&j.Pos)
	w.write(&j.Rot)
	w.write(&j.LinearLower)
	w.write(&j.LinearUpper)
	w.write(&j.AngularLower)
	w.write(&j.AngularUpper)
	w.write(&j.LinearSpring)
	w.write(&j.AngularSpring)
}

// pmdDisplayData returns the legacy display trailer fields, from the
// imported extension when present, otherwise derived from the document's
// display frames.
func pmdDisplayData(doc *Document) (morphDisp []int, names, namesEn []string, boneDisp []*PMDBoneDisplay) {
	if ext := doc.PMD; ext != nil {
		return ext.MorphDisplay, ext.DisplayNames, ext.DisplayNamesEn, ext.BoneDisplay
	}
	for _, d := range doc.DisplayFrames {
		if d.Special {
			for _, e := range d.Elements {
				if e.IsMorph {
					morphDisp = append(morphDisp, e.Index)
				}
			}
			continue
		}
		frame := uint8(len(names) + 1)
		names = append(names, d.Name+"\n")
		namesEn = append(namesEn, d.NameEn+"\n")
		for _, e := range d.Elements {
			if !e.IsMorph {
				boneDisp = append(boneDisp, &PMDBoneDisplay{BoneID: e.Index, Frame: frame})
			}
		}
	}
	return
}

// Write serializes doc. Vertex-kind morphs are the only morphs the legacy
// schema can hold; others are skipped. The English name block is always
// written.
func (w *PMDWriter) Write(doc *Document) error {
	w.writeBytes([]byte("Pmd"))
	w.writeFloat(1)
	w.writeCString(doc.Name, 20)
	w.writeCString(doc.Comment, 256)

	w.writeInt(len(doc.Vertexes))
	for _, v := range doc.Vertexes {
		w.writeVertex(v)
	}

	w.writeInt(len(doc.Faces) * 3)
	for _, f := range doc.Faces {
		w.writeUint16(uint16(f.Verts[0]))
		w.writeUint16(uint16(f.Verts[1]))
		w.writeUint16(uint16(f.Verts[2]))
	}

	w.writeInt(len(doc.Materials))
	for _, m := range doc.Materials {
		w.writeMaterial(doc, m)
	}

	w.writeUint16(uint16(len(doc.Bones)))
	for i := range doc.Bones {
		w.writeBone(doc, i)
	}

	var ikBones []int
	for i, b := range doc.Bones {
		if b.Flags&BoneFlagEnableIK != 0 {
			ikBones = append(ikBones, i)
		}
	}
	w.writeUint16(uint16(len(ikBones)))
	for _, i := range ikBones {
		b := doc.Bones[i]
		w.writeVInt(2, i)
		w.writeVInt(2, b.IK.TargetID)
		w.writeUint8(uint8(len(b.IK.Links)))
		w.writeUint16(uint16(b.IK.Loop))
		w.writeFloat(b.IK.LimitRad)
		for _, l := range b.IK.Links {
			w.writeVInt(2, l.TargetID)
		}
	}

	var morphs []*Morph
	for _, m := range doc.Morphs {
		if m.MorphType == MorphTypeVertex {
			morphs = append(morphs, m)
		} else {
			logrus.Warnf("pmd: dropping morph %q: kind %d has no legacy form", m.Name, m.MorphType)
		}
	}
	if len(morphs) == 0 {
		w.writeUint16(0)
	} else {
		base, ord := baseMorph(doc)
		w.writeUint16(uint16(len(morphs) + 1))
		w.writeCString(base.Name, 20)
		w.writeInt(len(base.Vertex))
		w.writeUint8(0)
		for _, v := range base.Vertex {
			w.writeInt(v.Target)
			w.write(&v.Offset)
		}
		for _, m := range morphs {
			w.writeMorph(m, ord)
		}
	}

	morphDisp, names, namesEn, boneDisp := pmdDisplayData(doc)

	w.writeUint8(uint8(len(morphDisp)))
	for _, m := range morphDisp {
		w.writeUint16(uint16(m + 1))
	}

	w.writeUint8(uint8(len(names)))
	for _, n := range names {
		w.writeCString(n, 50)
	}

	w.writeInt(len(boneDisp))
	for _, d := range boneDisp {
		w.writeVInt(2, d.BoneID)
		w.writeUint8(d.Frame)
	}

	w.writeUint8(1)
	w.writeCString(doc.NameEn, 20)
	w.writeCString(doc.CommentEn, 256)
	for _, b := range doc.Bones {
		w.writeCString(b.NameEn, 20)
	}
	for _, m := range morphs {
		w.writeCString(m.NameEn, 20)
	}
	for i := range names {
		en := ""
		if i < len(namesEn) {
			en = namesEn[i]
		}
		w.writeCString(en, 50)
	}

	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("toon%02d.bmp", i+1)
		if ext := doc.PMD; ext != nil && ext.ToonNames[i] != "" {
			name = ext.ToonNames[i]
		}
		w.writeCString(name, 100)
	}

	w.writeInt(len(doc.RigidBodies))
	for _, r := range doc.RigidBodies {
		w.writeRigidBody(doc, r)
	}

	w.writeInt(len(doc.Joints))
	for _, j := range doc.Joints {
		w.writeJoint(j)
	}

	if ext := doc.PMD; ext != nil {
		w.writeBytes(ext.Extra)
	}

	return w.err
}

// WritePMD serializes doc as legacy PMD.
func WritePMD(doc *Document, w io.Writer) error {
	return NewPMDWriter(w).Write(doc)
}
