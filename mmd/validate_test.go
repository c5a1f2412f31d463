package mmd

import (
	"bytes"
	"math"
	"testing"

	"github.com/davecgh/go-spew/spew"
)

func hasIssue(issues []*Issue, kind IssueKind, source string) bool {
	for _, i := range issues {
		if i.Kind == kind && i.Source == source {
			return true
		}
	}
	return false
}

func TestValidate_CleanModel(t *testing.T) {
	if issues := Validate(testModel()); len(issues) != 0 {
		t.Error("clean model reported issues: ", spew.Sdump(issues))
	}
}

func TestValidate_DanglingReferences(t *testing.T) {
	doc := testModel()
	doc.Joints[0].BodyA = 999
	doc.Materials[0].TextureID = 7
	doc.Faces = append(doc.Faces, &Face{Verts: [3]int{0, 1, 99}})
	doc.Materials[0].Count = 6

	issues := Validate(doc)
	if !hasIssue(issues, IssueDanglingReference, "joint[0]") {
		t.Error("joint body 999 not reported: ", spew.Sdump(issues))
	}
	if !hasIssue(issues, IssueDanglingReference, "material[0]") {
		t.Error("texture 7 not reported: ", spew.Sdump(issues))
	}
	if !hasIssue(issues, IssueDanglingReference, "face[1]") {
		t.Error("face vertex 99 not reported: ", spew.Sdump(issues))
	}
}

func TestValidate_DanglingIsNotFatal(t *testing.T) {
	// A dangling reference round-trips: the file stays loadable and the
	// bad index is preserved for the caller to inspect.
	doc := testModel()
	doc.Joints[0].BodyA = 99

	var buf bytes.Buffer
	if err := WritePMX(doc, &buf); err != nil {
		t.Fatal(err)
	}
	got, err := ParsePMX(&buf)
	if err != nil {
		t.Fatal("dangling reference made the parse fail: ", err)
	}
	if got.Joints[0].BodyA != 99 {
		t.Error("bad index not preserved: ", got.Joints[0].BodyA)
	}
	if !hasIssue(got.Issues, IssueDanglingReference, "joint[0]") {
		t.Error("issue not attached to document: ", spew.Sdump(got.Issues))
	}
}

func TestValidate_BoneCycle(t *testing.T) {
	doc := testModel()
	doc.Bones[0].ParentID = 0 // self parent

	issues := Validate(doc)
	if !hasIssue(issues, IssueCycle, "bone[0]") {
		t.Error("self-parent cycle not reported: ", spew.Sdump(issues))
	}

	doc = testModel()
	doc.Bones[0].ParentID = 1 // 0 -> 1 -> 0
	issues = Validate(doc)
	if !hasIssue(issues, IssueCycle, "bone[0]") || !hasIssue(issues, IssueCycle, "bone[1]") {
		t.Error("two-bone cycle not reported: ", spew.Sdump(issues))
	}
}

func TestValidate_MorphCycle(t *testing.T) {
	doc := testModel()
	doc.Morphs = append(doc.Morphs, &Morph{
		Name: "g1", MorphType: MorphTypeGroup,
		Group: []*MorphGroup{{Target: 3, Weight: 1}},
	}, &Morph{
		Name: "g2", MorphType: MorphTypeGroup,
		Group: []*MorphGroup{{Target: 2, Weight: 1}},
	})

	issues := Validate(doc)
	found := false
	for _, i := range issues {
		if i.Kind == IssueCycle && (i.Source == "morph[2]" || i.Source == "morph[3]") {
			found = true
		}
	}
	if !found {
		t.Error("group morph cycle not reported: ", spew.Sdump(issues))
	}
}

func TestValidate_NameConflict(t *testing.T) {
	doc := testModel()
	doc.Bones[1].Name = doc.Bones[0].Name

	issues := Validate(doc)
	if !hasIssue(issues, IssueNameConflict, "bone[1]") {
		t.Error("duplicate bone name not reported: ", spew.Sdump(issues))
	}
}

func TestValidate_NaN(t *testing.T) {
	doc := testModel()
	doc.Vertexes[0].Pos.X = float32(math.NaN())
	doc.Bones[1].Pos.Y = float32(math.NaN())

	issues := Validate(doc)
	if !hasIssue(issues, IssueNaN, "vertex[0]") || !hasIssue(issues, IssueNaN, "bone[1]") {
		t.Error("NaN values not reported: ", spew.Sdump(issues))
	}
}

func TestValidate_MaterialCountMismatch(t *testing.T) {
	doc := testModel()
	doc.Materials[0].Count = 6

	issues := Validate(doc)
	if !hasIssue(issues, IssueCountMismatch, "materials") {
		t.Error("face count mismatch not reported: ", spew.Sdump(issues))
	}
}
