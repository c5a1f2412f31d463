package mmd

import (
	"bytes"
	"testing"

	"github.com/binzume/mmdio/geom"
	"github.com/davecgh/go-spew/spew"
)

func TestPMD_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePMD(testModel(), &buf); err != nil {
		t.Fatal("write: ", err)
	}
	got, err := ParsePMD(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal("parse: ", err)
	}

	if got.Name != "テストモデル" || got.NameEn != "test model" || got.Comment != "コメント" {
		t.Error("model info mismatch: ", got.Name, got.NameEn)
	}
	if got.PMD == nil || !got.PMD.EnglishBlock {
		t.Error("english block not detected")
	}
	if len(got.Vertexes) != 3 {
		t.Fatal("vertex count: ", len(got.Vertexes))
	}
	if v := got.Vertexes[1]; v.WeightType != WeightBDEF2 || v.Bones[0] != 0 || v.Bones[1] != 1 || v.BoneWeights[0] != 0.75 {
		t.Error("vertex weights mismatch: ", spew.Sdump(v))
	}
	if got.Vertexes[0].EdgeScale != 1 || got.Vertexes[1].EdgeScale != 1 {
		t.Error("edge scale mismatch: ", got.Vertexes[0].EdgeScale, got.Vertexes[1].EdgeScale)
	}

	m := got.Materials[0]
	if m.Name != "mat1" || m.Toon != 3 || m.ToonType != 1 || m.Count != 3 {
		t.Error("material mismatch: ", spew.Sdump(m))
	}
	if tex := got.Textures[m.TextureID]; tex != "body.png" {
		t.Error("texture mismatch: ", tex)
	}
	if env := got.Textures[m.EnvID]; env != "env.sph" || m.EnvMode != 1 {
		t.Error("sphere texture mismatch: ", env, m.EnvMode)
	}
	if m.Flags&MaterialFlagDrawEdge == 0 {
		t.Error("edge flag lost")
	}

	if got.Bones[0].Name != "センター" || got.Bones[0].ParentID != -1 {
		t.Error("bone mismatch: ", spew.Sdump(got.Bones[0]))
	}
	if got.Bones[1].NameEn != "leg IK L" {
		t.Error("english bone name mismatch: ", got.Bones[1].NameEn)
	}
	ik := got.Bones[1]
	if ik.Flags&BoneFlagEnableIK == 0 || ik.IK.TargetID != 0 || ik.IK.Loop != 40 || len(ik.IK.Links) != 1 {
		t.Error("IK mismatch: ", spew.Sdump(ik.IK))
	}

	// Only the vertex morph survives the legacy schema; its targets go
	// through the base morph indirection.
	if len(got.Morphs) != 1 {
		t.Fatal("morph count: ", len(got.Morphs))
	}
	mv := got.Morphs[0]
	if mv.Name != "まばたき" || mv.NameEn != "blink" || mv.Vertex[0].Target != 1 {
		t.Error("morph mismatch: ", spew.Sdump(mv))
	}
	if mv.Vertex[0].Offset != (geom.Vector3{Y: -0.1}) {
		t.Error("morph offset mismatch: ", mv.Vertex[0].Offset)
	}

	if len(got.PMD.MorphDisplay) != 1 || got.PMD.MorphDisplay[0] != 0 {
		t.Error("morph display mismatch: ", got.PMD.MorphDisplay)
	}
	if got.PMD.ToonNames[0] != "toon01.bmp" || got.PMD.ToonNames[9] != "toon10.bmp" {
		t.Error("toon names mismatch: ", got.PMD.ToonNames)
	}

	if len(got.RigidBodies) != 2 || got.RigidBodies[0].Pos != (geom.Vector3{Y: 10}) {
		t.Error("rigid body mismatch: ", spew.Sdump(got.RigidBodies))
	}
	if len(got.Joints) != 1 || got.Joints[0].Type != JointTypeSpring6DOF || got.Joints[0].BodyB != 1 {
		t.Error("joint mismatch: ", spew.Sdump(got.Joints))
	}
}

func TestPMD_RewriteStable(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	if err := WritePMD(testModel(), &buf1); err != nil {
		t.Fatal(err)
	}
	doc, err := ParsePMD(bytes.NewReader(buf1.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if err := WritePMD(doc, &buf2); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf1.Bytes(), buf2.Bytes()) {
		t.Errorf("rewrite not byte-identical: %d vs %d bytes", buf1.Len(), buf2.Len())
	}
}

func TestPMD_ExtraPassthrough(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePMD(testModel(), &buf); err != nil {
		t.Fatal(err)
	}
	trailing := []byte{0xde, 0xad, 0xbe, 0xef, 0x42}
	buf.Write(trailing)

	doc, err := ParsePMD(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(doc.PMD.Extra, trailing) {
		t.Error("trailing bytes not preserved: ", doc.PMD.Extra)
	}

	var out bytes.Buffer
	if err := WritePMD(doc, &out); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out.Bytes(), buf.Bytes()) {
		t.Error("rewrite dropped trailing bytes")
	}
}

func TestPMD_TruncatedTrailer(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePMD(testModel(), &buf); err != nil {
		t.Fatal(err)
	}
	// Cut into the rigid body section: the parse must still succeed, keep
	// no partial rigid bodies, and preserve the cut-off tail verbatim.
	data := buf.Bytes()[:buf.Len()-150]
	doc, err := ParsePMD(bytes.NewReader(data))
	if err != nil {
		t.Fatal("truncated trailer should be tolerated: ", err)
	}
	if len(doc.RigidBodies) != 0 && len(doc.RigidBodies) != 1 {
		t.Error("partial rigid body entries leaked: ", len(doc.RigidBodies))
	}
	if len(doc.PMD.Extra) == 0 {
		t.Error("cut-off tail not preserved")
	}

	var out bytes.Buffer
	if err := WritePMD(doc, &out); err != nil {
		t.Fatal(err)
	}
}

func TestPMD_TruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePMD(testModel(), &buf); err != nil {
		t.Fatal(err)
	}
	// Cutting inside the vertex section is fatal.
	_, err := ParsePMD(bytes.NewReader(buf.Bytes()[:400]))
	pe, ok := err.(*ParseError)
	if !ok {
		t.Fatal("expected *ParseError, got ", err)
	}
	if !pe.Truncated() || pe.Section != "vertices" {
		t.Error("unexpected failure detail: ", pe)
	}
}

func TestPMD_BadMagic(t *testing.T) {
	_, err := ParsePMD(bytes.NewReader([]byte("PMX \x00\x00\x00\x00")))
	if err == nil {
		t.Fatal("bad magic accepted")
	}
}
