package mmd

import "fmt"

// Validate inspects a document graph for problems that do not prevent
// serialization but usually indicate broken tooling: out-of-range
// references, reference cycles, duplicated names and NaN geometry. The
// findings are advisory; parsers attach them to Document.Issues.
func Validate(doc *Document) []*Issue {
	v := &validator{doc: doc}
	v.vertices()
	v.faces()
	v.materials()
	v.bones()
	v.morphs()
	v.displayFrames()
	v.physics()
	v.names()
	return v.issues
}

type validator struct {
	doc    *Document
	issues []*Issue
}

func (v *validator) addf(kind IssueKind, source, format string, args ...interface{}) {
	v.issues = append(v.issues, issuef(kind, source, format, args...))
}

// ref checks an optional signed reference: -1 means none, anything else
// must land inside the target list.
func (v *validator) ref(source, kind string, id, count int) {
	if id < -1 || id >= count {
		v.addf(IssueDanglingReference, source, "%s %d out of range (%d %ss)", kind, id, count, kind)
	}
}

func (v *validator) vertices() {
	bones := len(v.doc.Bones)
	for i, vert := range v.doc.Vertexes {
		src := fmt.Sprintf("vertex[%d]", i)
		if vert.Pos.HasNaN() || vert.Normal.HasNaN() {
			v.addf(IssueNaN, src, "position or normal is NaN")
		}
		for _, b := range vert.Bones {
			v.ref(src, "bone", b, bones)
		}
	}
}

func (v *validator) faces() {
	verts := len(v.doc.Vertexes)
	for i, f := range v.doc.Faces {
		for _, t := range f.Verts {
			if t < 0 || t >= verts {
				v.addf(IssueDanglingReference, fmt.Sprintf("face[%d]", i), "vertex %d out of range (%d vertices)", t, verts)
			}
		}
	}
}

func (v *validator) materials() {
	textures := len(v.doc.Textures)
	total := 0
	for i, m := range v.doc.Materials {
		src := fmt.Sprintf("material[%d]", i)
		v.ref(src, "texture", m.TextureID, textures)
		v.ref(src, "texture", m.EnvID, textures)
		if m.ToonType == 0 {
			v.ref(src, "texture", m.Toon, textures)
		}
		total += m.Count
	}
	if len(v.doc.Materials) > 0 && total != len(v.doc.Faces)*3 {
		v.addf(IssueCountMismatch, "materials", "material face counts sum to %d, model has %d face vertices", total, len(v.doc.Faces)*3)
	}
}

func (v *validator) bones() {
	bones := len(v.doc.Bones)
	for i, b := range v.doc.Bones {
		src := fmt.Sprintf("bone[%d]", i)
		if b.Pos.HasNaN() {
			v.addf(IssueNaN, src, "position is NaN")
		}
		v.ref(src, "bone", b.ParentID, bones)
		v.ref(src, "bone", b.TailID, bones)
		if b.Flags&(BoneFlagInheritRotation|BoneFlagInheritTranslation) != 0 {
			v.ref(src, "bone", b.InheritParentID, bones)
		}
		if b.Flags&BoneFlagEnableIK != 0 {
			v.ref(src, "bone", b.IK.TargetID, bones)
			for _, l := range b.IK.Links {
				v.ref(src, "bone", l.TargetID, bones)
			}
		}
	}

	// Parent chains must terminate. Walk each chain with a step budget so
	// a cycle anywhere is reported exactly once per entry bone.
	for i := range v.doc.Bones {
		id := i
		for steps := 0; steps <= bones; steps++ {
			p := v.doc.Bones[id].ParentID
			if p < 0 || p >= bones {
				break
			}
			if steps == bones || p == i {
				v.addf(IssueCycle, fmt.Sprintf("bone[%d]", i), "parent chain does not terminate")
				break
			}
			id = p
		}
	}
}

func (v *validator) morphs() {
	morphs := len(v.doc.Morphs)
	for i, m := range v.doc.Morphs {
		src := fmt.Sprintf("morph[%d]", i)
		for _, g := range m.Group {
			v.ref(src, "morph", g.Target, morphs)
		}
		for _, g := range m.Flip {
			v.ref(src, "morph", g.Target, morphs)
		}
		for _, x := range m.Vertex {
			if x.Target < 0 || x.Target >= len(v.doc.Vertexes) {
				v.addf(IssueDanglingReference, src, "vertex %d out of range (%d vertices)", x.Target, len(v.doc.Vertexes))
			}
			if x.Offset.HasNaN() {
				v.addf(IssueNaN, src, "vertex offset is NaN")
			}
		}
		for _, x := range m.UV {
			if x.Target < 0 || x.Target >= len(v.doc.Vertexes) {
				v.addf(IssueDanglingReference, src, "vertex %d out of range (%d vertices)", x.Target, len(v.doc.Vertexes))
			}
		}
		for _, x := range m.Bone {
			v.ref(src, "bone", x.Target, len(v.doc.Bones))
		}
		for _, x := range m.Material {
			v.ref(src, "material", x.Target, len(v.doc.Materials))
		}
		for _, x := range m.Impulse {
			v.ref(src, "rigid body", x.Target, len(v.doc.RigidBodies))
		}
	}

	// Group and flip morphs may not reach themselves.
	state := make([]int, morphs) // 0 unvisited, 1 in progress, 2 done
	var walk func(i int) bool
	walk = func(i int) bool {
		if i < 0 || i >= morphs || state[i] == 2 {
			return false
		}
		if state[i] == 1 {
			return true
		}
		state[i] = 1
		m := v.doc.Morphs[i]
		for _, g := range append(append([]*MorphGroup(nil), m.Group...), m.Flip...) {
			if walk(g.Target) {
				state[i] = 2
				return true
			}
		}
		state[i] = 2
		return false
	}
	for i := range v.doc.Morphs {
		if state[i] == 0 && walk(i) {
			v.addf(IssueCycle, fmt.Sprintf("morph[%d]", i), "group morph reaches itself")
		}
	}
}

func (v *validator) displayFrames() {
	for i, d := range v.doc.DisplayFrames {
		src := fmt.Sprintf("display frame[%d]", i)
		for _, e := range d.Elements {
			if e.IsMorph {
				v.ref(src, "morph", e.Index, len(v.doc.Morphs))
			} else {
				v.ref(src, "bone", e.Index, len(v.doc.Bones))
			}
		}
	}
}

func (v *validator) physics() {
	for i, r := range v.doc.RigidBodies {
		src := fmt.Sprintf("rigid body[%d]", i)
		v.ref(src, "bone", r.BoneID, len(v.doc.Bones))
		if r.Pos.HasNaN() || r.Size.HasNaN() {
			v.addf(IssueNaN, src, "position or size is NaN")
		}
	}
	for i, j := range v.doc.Joints {
		src := fmt.Sprintf("joint[%d]", i)
		v.ref(src, "rigid body", j.BodyA, len(v.doc.RigidBodies))
		v.ref(src, "rigid body", j.BodyB, len(v.doc.RigidBodies))
	}
	for i, s := range v.doc.SoftBodies {
		src := fmt.Sprintf("soft body[%d]", i)
		v.ref(src, "material", s.MaterialID, len(v.doc.Materials))
		for _, a := range s.Anchors {
			v.ref(src, "rigid body", a.RigidBodyID, len(v.doc.RigidBodies))
			if a.VertexID < 0 || a.VertexID >= len(v.doc.Vertexes) {
				v.addf(IssueDanglingReference, src, "vertex %d out of range (%d vertices)", a.VertexID, len(v.doc.Vertexes))
			}
		}
	}
}

func (v *validator) names() {
	report := func(kind string, names func(i int) string, count int) {
		seen := map[string]int{}
		for i := 0; i < count; i++ {
			n := names(i)
			if n == "" {
				continue
			}
			if first, ok := seen[n]; ok {
				v.addf(IssueNameConflict, fmt.Sprintf("%s[%d]", kind, i), "name %q already used by %s[%d]", n, kind, first)
			} else {
				seen[n] = i
			}
		}
	}
	report("bone", func(i int) string { return v.doc.Bones[i].Name }, len(v.doc.Bones))
	report("morph", func(i int) string { return v.doc.Morphs[i].Name }, len(v.doc.Morphs))
}
