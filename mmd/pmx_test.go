package mmd

import (
	"bytes"
	"testing"

	"github.com/binzume/mmdio/geom"
	"github.com/davecgh/go-spew/spew"
)

func testModel() *Document {
	doc := NewDocument()
	doc.Name = "テストモデル"
	doc.NameEn = "test model"
	doc.Comment = "コメント"
	doc.CommentEn = "comment"

	doc.Vertexes = []*Vertex{
		{
			Pos: geom.Vector3{X: 1, Y: 2, Z: 3}, Normal: geom.Vector3{Y: 1}, UV: geom.Vector2{X: 0.5, Y: 0.25},
			WeightType: WeightBDEF1, Bones: []int{0}, BoneWeights: []float32{1}, EdgeScale: 1,
		},
		{
			Pos: geom.Vector3{X: 4, Y: 5, Z: 6}, Normal: geom.Vector3{Z: 1},
			WeightType: WeightBDEF2, Bones: []int{0, 1}, BoneWeights: []float32{0.75, 0.25}, EdgeScale: 0.5,
		},
		{
			Pos: geom.Vector3{X: 7, Y: 8, Z: 9}, Normal: geom.Vector3{X: 1},
			WeightType: WeightSDEF, Bones: []int{0, 1}, BoneWeights: []float32{0.5, 0.5},
			SDEF: &SDEF{C: geom.Vector3{X: 1}, R0: geom.Vector3{Y: 1}, R1: geom.Vector3{Z: 1}},
		},
	}
	doc.Faces = []*Face{{Verts: [3]int{0, 1, 2}}}
	doc.Textures = []string{"body.png", "env.sph"}
	doc.Materials = []*Material{
		{
			Name: "体", NameEn: "body",
			Color:    geom.Vector4{X: 1, Y: 1, Z: 1, W: 1},
			Specular: geom.Vector3{X: 0.5}, Specularity: 10,
			AColor: geom.Vector3{X: 0.2, Y: 0.2, Z: 0.2},
			Flags:  MaterialFlagDoubleSided | MaterialFlagDrawEdge,
			EdgeColor: geom.Vector4{W: 1}, EdgeScale: 1,
			TextureID: 0, EnvID: 1, EnvMode: 1, ToonType: 1, Toon: 3,
			Memo: "memo", Count: 3,
		},
	}
	doc.Bones = []*Bone{
		{Name: "センター", NameEn: "center", ParentID: -1, TailID: -1, Flags: BoneFlagRotatable | BoneFlagVisible | BoneFlagEnabled, TailPos: geom.Vector3{Y: 1}},
		{
			Name: "左足ＩＫ", NameEn: "leg IK L", ParentID: 0, TailID: 0, Pos: geom.Vector3{Y: 1},
			Flags: BoneFlagTailIndex | BoneFlagRotatable | BoneFlagTranslatable | BoneFlagVisible | BoneFlagEnabled | BoneFlagEnableIK,
		},
	}
	doc.Bones[1].IK.TargetID = 0
	doc.Bones[1].IK.Loop = 40
	doc.Bones[1].IK.LimitRad = 1.0471976
	doc.Bones[1].IK.Links = []*Link{
		{TargetID: 0, HasLimit: true, LimitMin: geom.Vector3{X: -3.14}, LimitMax: geom.Vector3{X: -0.002}},
	}
	doc.Morphs = []*Morph{
		{
			Name: "まばたき", NameEn: "blink", PanelType: 2, MorphType: MorphTypeVertex,
			Vertex: []*MorphVertex{{Target: 1, Offset: geom.Vector3{Y: -0.1}}},
		},
		{
			Name: "笑い", NameEn: "smile", PanelType: 2, MorphType: MorphTypeGroup,
			Group: []*MorphGroup{{Target: 0, Weight: 0.5}},
		},
	}
	doc.DisplayFrames = []*DisplayFrame{
		{Name: "Root", NameEn: "Root", Special: true, Elements: []*DisplayElement{{Index: 0}}},
		{Name: "表情", NameEn: "Exp", Special: true, Elements: []*DisplayElement{{IsMorph: true, Index: 0}}},
	}
	doc.RigidBodies = []*RigidBody{
		{
			Name: "体", NameEn: "body", BoneID: 0, Group: 1, GroupMask: 0xfffe,
			Shape: RigidShapeCapsule, Size: geom.Vector3{X: 0.5, Y: 1},
			Pos: geom.Vector3{Y: 10}, Mass: 1, LinearDamping: 0.9, AngularDamping: 0.9,
			Restitution: 0.1, Friction: 0.5, Mode: RigidModeDynamic,
		},
		{Name: "髪", BoneID: 1, Mode: RigidModeDynamicBone},
	}
	doc.Joints = []*Joint{
		{
			Name: "体-髪", NameEn: "body-hair", Type: JointTypeSpring6DOF, BodyA: 0, BodyB: 1,
			Pos: geom.Vector3{Y: 10}, LinearLower: geom.Vector3{X: -1}, LinearUpper: geom.Vector3{X: 1},
		},
	}
	return doc
}

func TestPMX_RoundTrip(t *testing.T) {
	doc := testModel()

	var buf bytes.Buffer
	if err := WritePMX(doc, &buf); err != nil {
		t.Fatal("write: ", err)
	}
	got, err := ParsePMX(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal("parse: ", err)
	}
	if len(got.Issues) != 0 {
		t.Error("unexpected issues: ", spew.Sdump(got.Issues))
	}

	if got.Name != doc.Name || got.NameEn != doc.NameEn || got.Comment != doc.Comment {
		t.Error("model info mismatch: ", got.Name, got.NameEn, got.Comment)
	}
	if len(got.Vertexes) != len(doc.Vertexes) {
		t.Fatal("vertex count: ", len(got.Vertexes))
	}
	for i, v := range doc.Vertexes {
		g := got.Vertexes[i]
		if g.Pos != v.Pos || g.WeightType != v.WeightType || g.EdgeScale != v.EdgeScale {
			t.Error("vertex mismatch: ", spew.Sdump(g, v))
		}
	}
	if g := got.Vertexes[1]; g.BoneWeights[0] != 0.75 || g.BoneWeights[1] != 0.25 {
		t.Error("BDEF2 weights: ", g.BoneWeights)
	}
	if g := got.Vertexes[2]; g.SDEF == nil || g.SDEF.C != doc.Vertexes[2].SDEF.C {
		t.Error("SDEF data lost: ", spew.Sdump(g))
	}

	if len(got.Faces) != 1 || got.Faces[0].Verts != doc.Faces[0].Verts {
		t.Error("faces mismatch: ", spew.Sdump(got.Faces))
	}
	if len(got.Textures) != 2 || got.Textures[0] != "body.png" {
		t.Error("textures mismatch: ", got.Textures)
	}

	m := got.Materials[0]
	if m.Name != "体" || m.TextureID != 0 || m.EnvID != 1 || m.EnvMode != 1 || m.ToonType != 1 || m.Toon != 3 || m.Memo != "memo" || m.Count != 3 {
		t.Error("material mismatch: ", spew.Sdump(m))
	}

	b := got.Bones[1]
	if b.Name != "左足ＩＫ" || b.ParentID != 0 || b.TailID != 0 || b.Flags != doc.Bones[1].Flags {
		t.Error("bone mismatch: ", spew.Sdump(b))
	}
	if b.IK.Loop != 40 || len(b.IK.Links) != 1 || !b.IK.Links[0].HasLimit {
		t.Error("IK mismatch: ", spew.Sdump(b.IK))
	}
	if got.Bones[0].TailID != -1 || got.Bones[0].TailPos != doc.Bones[0].TailPos {
		t.Error("tail position mismatch: ", spew.Sdump(got.Bones[0]))
	}

	if len(got.Morphs) != 2 || got.Morphs[0].Vertex[0].Target != 1 || got.Morphs[1].Group[0].Weight != 0.5 {
		t.Error("morph mismatch: ", spew.Sdump(got.Morphs))
	}
	if len(got.DisplayFrames) != 2 || !got.DisplayFrames[1].Elements[0].IsMorph {
		t.Error("display frame mismatch: ", spew.Sdump(got.DisplayFrames))
	}
	if len(got.RigidBodies) != 2 || got.RigidBodies[0].GroupMask != 0xfffe || got.RigidBodies[0].Shape != RigidShapeCapsule {
		t.Error("rigid body mismatch: ", spew.Sdump(got.RigidBodies))
	}
	if len(got.Joints) != 1 || got.Joints[0].BodyB != 1 {
		t.Error("joint mismatch: ", spew.Sdump(got.Joints))
	}
}

func TestPMX_RewriteStable(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	if err := WritePMX(testModel(), &buf1); err != nil {
		t.Fatal(err)
	}
	doc, err := ParsePMX(bytes.NewReader(buf1.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if err := WritePMX(doc, &buf2); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf1.Bytes(), buf2.Bytes()) {
		t.Errorf("rewrite not byte-identical: %d vs %d bytes", buf1.Len(), buf2.Len())
	}
}

func TestPMX_UTF16Encoding(t *testing.T) {
	doc := testModel()
	var buf bytes.Buffer
	if err := NewPMXWriter(&buf).Write(doc, &ExportOptions{Encoding: "utf16"}); err != nil {
		t.Fatal(err)
	}
	got, err := ParsePMX(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Header.Info[AttrStringEncoding] != EncodingUTF16 {
		t.Error("encoding attribute: ", got.Header.Info)
	}
	if got.Name != doc.Name || got.Bones[1].Name != doc.Bones[1].Name {
		t.Error("UTF-16 text mismatch: ", got.Name, got.Bones[1].Name)
	}
}

func TestPMX_OmitEnglish(t *testing.T) {
	var buf bytes.Buffer
	if err := NewPMXWriter(&buf).Write(testModel(), &ExportOptions{OmitEnglish: true}); err != nil {
		t.Fatal(err)
	}
	got, err := ParsePMX(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.NameEn != "" || got.Bones[0].NameEn != "" || got.Materials[0].NameEn != "" {
		t.Error("english names not omitted: ", got.NameEn, got.Bones[0].NameEn)
	}
	if got.Name == "" || got.Bones[0].Name == "" {
		t.Error("japanese names lost")
	}
}

func TestPMX_IndexWidthBoundary(t *testing.T) {
	doc := NewDocument()
	for i := 0; i < 127; i++ {
		doc.Bones = append(doc.Bones, &Bone{ParentID: i - 1, TailID: -1})
	}
	opt := &ExportOptions{}
	info, err := opt.headerInfo(doc)
	if err != nil {
		t.Fatal(err)
	}
	if info[AttrBoneIndexSz] != 1 {
		t.Error("127 bones should use 1-byte indices, got ", info[AttrBoneIndexSz])
	}

	doc.Bones = append(doc.Bones, &Bone{ParentID: 126, TailID: -1})
	info, err = opt.headerInfo(doc)
	if err != nil {
		t.Fatal(err)
	}
	if info[AttrBoneIndexSz] != 2 {
		t.Error("128 bones should use 2-byte indices, got ", info[AttrBoneIndexSz])
	}

	// Round trip across the boundary: bone 127 must stay addressable.
	doc.Bones[127].ParentID = 126
	var buf bytes.Buffer
	if err := WritePMX(doc, &buf); err != nil {
		t.Fatal(err)
	}
	got, err := ParsePMX(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Bones) != 128 || got.Bones[127].ParentID != 126 {
		t.Error("boundary round trip: ", len(got.Bones))
	}
}

func TestPMX_ExtUV(t *testing.T) {
	doc := NewDocument()
	doc.Vertexes = []*Vertex{
		{WeightType: WeightBDEF1, Bones: []int{-1}, ExtUVs: []geom.Vector4{{X: 1, Y: 2, Z: 3, W: 4}}},
		{WeightType: WeightBDEF1, Bones: []int{-1}},
	}
	var buf bytes.Buffer
	if err := WritePMX(doc, &buf); err != nil {
		t.Fatal(err)
	}
	got, err := ParsePMX(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Header.Info[AttrExtUV] != 1 {
		t.Error("extra UV count: ", got.Header.Info[AttrExtUV])
	}
	if got.Vertexes[0].ExtUVs[0] != doc.Vertexes[0].ExtUVs[0] {
		t.Error("extra UV mismatch: ", spew.Sdump(got.Vertexes[0]))
	}
	// The short vertex gets zero-padded to the model-wide UV count.
	if len(got.Vertexes[1].ExtUVs) != 1 || got.Vertexes[1].ExtUVs[0] != (geom.Vector4{}) {
		t.Error("padding mismatch: ", spew.Sdump(got.Vertexes[1]))
	}
}

func TestPMX_SoftBody21(t *testing.T) {
	doc := testModel()
	doc.SoftBodies = []*SoftBody{
		{
			Name: "スカート", NameEn: "skirt", Shape: SoftBodyShapeTriMesh, MaterialID: 0,
			Group: 2, GroupMask: 0xfffd, BLinkDistance: 2, ClusterCount: 4, TotalMass: 1, Margin: 0.05,
			Config:  SoftBodyConfig{VCF: 1, PR: 1},
			Anchors: []*SoftBodyAnchor{{RigidBodyID: 0, VertexID: 1, Near: true}},
			Pins:    []int{0, 2},
		},
	}
	var buf bytes.Buffer
	if err := WritePMX(doc, &buf); err != nil {
		t.Fatal(err)
	}
	got, err := ParsePMX(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Header.Version <= 2 {
		t.Error("soft bodies require version 2.1, header says ", got.Header.Version)
	}
	s := got.SoftBodies[0]
	if s.Name != "スカート" || s.ClusterCount != 4 || s.Config.PR != 1 || len(s.Anchors) != 1 || !s.Anchors[0].Near || len(s.Pins) != 2 {
		t.Error("soft body mismatch: ", spew.Sdump(s))
	}
}

func TestPMX_Truncated(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePMX(testModel(), &buf); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()

	_, err := ParsePMX(bytes.NewReader(data[:len(data)/2]))
	if err == nil {
		t.Fatal("truncated input parsed without error")
	}
	pe, ok := err.(*ParseError)
	if !ok {
		t.Fatal("expected *ParseError, got ", err)
	}
	if !pe.Truncated() {
		t.Error("error not marked truncated: ", pe)
	}
	if pe.Section == "" || pe.Offset <= 0 {
		t.Error("missing section/offset: ", pe)
	}
}

func TestPMX_BadMagic(t *testing.T) {
	_, err := ParsePMX(bytes.NewReader([]byte("PMDX\x00\x00\x00\x00")))
	if err == nil {
		t.Fatal("bad magic accepted")
	}
}

func TestPMX_UnsupportedVersion(t *testing.T) {
	var buf bytes.Buffer
	w := NewPMXWriter(&buf)
	w.writeBytes([]byte("PMX "))
	w.writeFloat(3)
	w.writeUint8(8)
	w.writeBytes([]byte{0, 0, 2, 1, 1, 2, 1, 1})
	_, err := ParsePMX(&buf)
	if _, ok := err.(*UnsupportedVersionError); !ok {
		t.Error("expected *UnsupportedVersionError, got ", err)
	}
}

func TestParse_Sniff(t *testing.T) {
	var pmx bytes.Buffer
	if err := WritePMX(testModel(), &pmx); err != nil {
		t.Fatal(err)
	}
	doc, err := Parse(&pmx)
	if err != nil {
		t.Fatal(err)
	}
	if string(doc.Header.Format) != "PMX " {
		t.Error("sniffed format: ", string(doc.Header.Format))
	}

	var pmd bytes.Buffer
	if err := WritePMD(testModel(), &pmd); err != nil {
		t.Fatal(err)
	}
	doc, err = Parse(&pmd)
	if err != nil {
		t.Fatal(err)
	}
	if string(doc.Header.Format) != "Pmd" {
		t.Error("sniffed format: ", string(doc.Header.Format))
	}
}
