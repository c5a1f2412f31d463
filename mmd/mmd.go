// Package mmd implements readers and writers for the MikuMikuDance file
// formats: PMX and PMD models, VMD motions and VPD poses.
//
// The package never opens files itself. Parsers consume an io.Reader
// supplied by the caller and produce a populated document graph; writers
// serialize a document graph to an io.Writer. All cross references between
// entities are plain integer indices, -1 meaning "none".
package mmd

import "github.com/binzume/mmdio/geom"

type Document struct {
	Header    *Header
	Name      string
	NameEn    string
	Comment   string
	CommentEn string

	Vertexes      []*Vertex
	Faces         []*Face
	Textures      []string
	Materials     []*Material
	Bones         []*Bone
	Morphs        []*Morph
	DisplayFrames []*DisplayFrame
	RigidBodies   []*RigidBody
	Joints        []*Joint
	SoftBodies    []*SoftBody

	// PMD holds legacy data that has no PMX representation. Nil for
	// documents parsed from PMX data.
	PMD *PMDExtension

	// Issues collects non-fatal problems found while parsing or validating.
	Issues []*Issue
}

func NewDocument() *Document {
	return &Document{Header: &Header{
		Format:  []byte("PMX "),
		Version: 2,
		Info:    []byte{1, 0, 2, 1, 1, 2, 1, 1},
	}}
}

type Header struct {
	Format  []byte
	Version float32
	// Info holds the header attribute bytes (string encoding, extra UV
	// count and the six index widths). Bytes beyond AttrRBIndexSz are
	// preserved and re-emitted verbatim for forward compatibility.
	Info []byte
}

// Header attribute indices into Header.Info.
const (
	AttrStringEncoding int = iota
	AttrExtUV
	AttrVertIndexSz
	AttrTexIndexSz
	AttrMatIndexSz
	AttrBoneIndexSz
	AttrMorphIndexSz
	AttrRBIndexSz

	attrCount = 8
)

// Vertex skinning weight kinds.
const (
	WeightBDEF1 uint8 = iota
	WeightBDEF2
	WeightBDEF4
	WeightSDEF
	WeightQDEF // PMX 2.1
)

type Vertex struct {
	Pos       geom.Vector3
	Normal    geom.Vector3
	UV        geom.Vector2
	ExtUVs    []geom.Vector4
	EdgeScale float32

	WeightType  uint8
	Bones       []int
	BoneWeights []float32
	SDEF        *SDEF
}

// bone returns the i-th deform bone, -1 when the slice is short.
func (v *Vertex) bone(i int) int {
	if i < len(v.Bones) {
		return v.Bones[i]
	}
	return -1
}

func (v *Vertex) weight(i int) float32 {
	if i < len(v.BoneWeights) {
		return v.BoneWeights[i]
	}
	return 0
}

// SDEF carries the auxiliary points of a spherical-deform weight pair.
type SDEF struct {
	C  geom.Vector3
	R0 geom.Vector3
	R1 geom.Vector3
}

type Face struct {
	Verts [3]int
}

type Material struct {
	Name        string
	NameEn      string
	Color       geom.Vector4
	Specular    geom.Vector3
	Specularity float32
	AColor      geom.Vector3
	Flags       byte
	EdgeColor   geom.Vector4
	EdgeScale   float32
	TextureID   int
	EnvID       int
	EnvMode     byte
	ToonType    byte
	Toon        int
	Memo        string
	Count       int
}

const (
	MaterialFlagDoubleSided   uint8 = 1
	MaterialFlagGroundShadow  uint8 = 2
	MaterialFlagSelfShadowMap uint8 = 4
	MaterialFlagSelfShadow    uint8 = 8
	MaterialFlagDrawEdge      uint8 = 16
	MaterialFlagVertexColor   uint8 = 32 // PMX 2.1
	MaterialFlagDrawPoint     uint8 = 64 // PMX 2.1
	MaterialFlagDrawLine      uint8 = 128
)

type Link struct {
	TargetID int
	HasLimit bool
	LimitMin geom.Vector3
	LimitMax geom.Vector3
}

type Bone struct {
	Name     string
	NameEn   string
	Pos      geom.Vector3
	ParentID int
	Layer    int
	Flags    uint16
	TailID   int
	TailPos  geom.Vector3

	InheritParentID        int
	InheritParentInfluence float32

	FixedAxis  geom.Vector3
	LocalAxisX geom.Vector3
	LocalAxisZ geom.Vector3

	ExternalParentKey int

	IK struct {
		TargetID int
		Loop     int
		LimitRad float32
		Links    []*Link
	}
}

const (
	BoneFlagTailIndex    uint16 = 1
	BoneFlagRotatable    uint16 = 2
	BoneFlagTranslatable uint16 = 4
	BoneFlagVisible      uint16 = 8
	BoneFlagEnabled      uint16 = 16
	BoneFlagEnableIK     uint16 = 32

	BoneFlagInheritLocal       uint16 = 128
	BoneFlagInheritRotation    uint16 = 256
	BoneFlagInheritTranslation uint16 = 512
	BoneFlagFixedAxis          uint16 = 1024
	BoneFlagLocalAxis          uint16 = 2048
	BoneFlagAfterPhysics       uint16 = 4096
	BoneFlagExternalParent     uint16 = 8192

	BoneFlagAll uint16 = 31 | 32 | 64 | 128 | 256 | 512 | 1024 | 2048 | 4096 | 8192
)

// Morph kinds as stored in the file.
const (
	MorphTypeGroup byte = iota
	MorphTypeVertex
	MorphTypeBone
	MorphTypeUV
	MorphTypeExtUV1
	MorphTypeExtUV2
	MorphTypeExtUV3
	MorphTypeExtUV4
	MorphTypeMaterial
	MorphTypeFlip    // PMX 2.1
	MorphTypeImpulse // PMX 2.1
)

type MorphGroup struct {
	Target int
	Weight float32
}

type MorphVertex struct {
	Target int
	Offset geom.Vector3
}

type MorphBone struct {
	Target   int
	Offset   geom.Vector3
	Rotation geom.Quaternion
}

type MorphUV struct {
	Target int
	Value  geom.Vector4
}

type MorphMaterial struct {
	Target int // -1 applies to all materials

	Flags           byte // 0: multiply, 1: add
	Diffuse         geom.Vector4
	Specular        geom.Vector3
	Specularity     float32
	Ambient         geom.Vector3
	EdgeColor       geom.Vector4
	EdgeSize        float32
	TextureTint     geom.Vector4
	EnvironmentTint geom.Vector4
	ToonTint        geom.Vector4
}

type MorphImpulse struct {
	Target   int // rigid body
	Local    bool
	Velocity geom.Vector3
	Torque   geom.Vector3
}

type Morph struct {
	Name      string
	NameEn    string
	PanelType byte
	MorphType byte

	// oneof, selected by MorphType. ExtUV kinds share the UV slice.
	Group    []*MorphGroup
	Vertex   []*MorphVertex
	Bone     []*MorphBone
	UV       []*MorphUV
	Material []*MorphMaterial
	Flip     []*MorphGroup
	Impulse  []*MorphImpulse
}

type DisplayElement struct {
	IsMorph bool
	Index   int
}

type DisplayFrame struct {
	Name     string
	NameEn   string
	Special  bool
	Elements []*DisplayElement
}

// Rigid body collision shapes.
const (
	RigidShapeSphere uint8 = iota
	RigidShapeBox
	RigidShapeCapsule
)

// Rigid body behavior modes.
const (
	RigidModeStatic      uint8 = iota // follows its bone, collision only
	RigidModeDynamic                  // physics simulation
	RigidModeDynamicBone              // physics simulation, position fed back to the bone
)

type RigidBody struct {
	Name   string
	NameEn string

	BoneID    int
	Group     uint8
	GroupMask uint16

	Shape uint8
	Size  geom.Vector3
	Pos   geom.Vector3
	Rot   geom.Vector3 // euler radians

	Mass           float32
	LinearDamping  float32
	AngularDamping float32
	Restitution    float32
	Friction       float32

	Mode uint8
}

// Joint constraint types. PMX 2.0 only uses JointTypeSpring6DOF.
const (
	JointTypeSpring6DOF uint8 = iota
	JointType6DOF
	JointTypeP2P
	JointTypeConeTwist
	JointTypeSlider
	JointTypeHinge
)

type Joint struct {
	Name   string
	NameEn string

	Type  uint8
	BodyA int
	BodyB int

	Pos geom.Vector3
	Rot geom.Vector3

	LinearLower  geom.Vector3
	LinearUpper  geom.Vector3
	AngularLower geom.Vector3
	AngularUpper geom.Vector3

	LinearSpring  geom.Vector3
	AngularSpring geom.Vector3
}

// Soft body shapes and flags (PMX 2.1).
const (
	SoftBodyShapeTriMesh uint8 = iota
	SoftBodyShapeRope
)

type SoftBodyConfig struct {
	VCF float32
	DP  float32
	DG  float32
	LF  float32
	PR  float32
	VC  float32
	DF  float32
	MT  float32
	CHR float32
	KHR float32
	SHR float32
	AHR float32
}

type SoftBodyCluster struct {
	SRHR    float32
	SKHR    float32
	SSHR    float32
	SRSplit float32
	SKSplit float32
	SSSplit float32
}

type SoftBodyIteration struct {
	V int32
	P int32
	D int32
	C int32
}

type SoftBodyMaterial struct {
	LST float32
	AST float32
	VST float32
}

type SoftBodyAnchor struct {
	RigidBodyID int
	VertexID    int
	Near        bool
}

type SoftBody struct {
	Name   string
	NameEn string

	Shape      uint8
	MaterialID int
	Group      uint8
	GroupMask  uint16
	Flags      uint8

	BLinkDistance int
	ClusterCount  int
	TotalMass     float32
	Margin        float32
	AeroModel     int

	Config    SoftBodyConfig
	Cluster   SoftBodyCluster
	Iteration SoftBodyIteration
	Material  SoftBodyMaterial

	Anchors []*SoftBodyAnchor
	Pins    []int
}

// PMDExtension holds PMD data the PMX entity graph cannot express. It is
// populated on PMD import so a later PMD export can reproduce the file.
type PMDExtension struct {
	// BoneKinds is the legacy per-bone kind byte (rotate, rotate+move,
	// IK target and so on). IKParents is the legacy per-bone companion
	// index whose meaning depends on the kind.
	BoneKinds []uint8
	IKParents []int

	// MorphDisplay lists morph indices shown on the facial panel.
	MorphDisplay []int

	DisplayNames   []string
	DisplayNamesEn []string
	BoneDisplay    []*PMDBoneDisplay

	ToonNames [10]string

	EnglishBlock bool

	// Extra preserves unrecognized trailing bytes verbatim.
	Extra []byte
}

type PMDBoneDisplay struct {
	BoneID int
	Frame  uint8
}
