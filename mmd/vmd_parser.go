package mmd

import (
	"io"
	"sort"

	"github.com/binzume/mmdio/geom"
	"github.com/pkg/errors"
)

const vmdMagic = "Vocaloid Motion Data 0002"

// Animation holds the keyframe tracks of a .vmd motion file.
type Animation struct {
	// ModelName is the model the motion was authored for. Camera and
	// light motions conventionally carry "カメラ・照明".
	ModelName string

	Bones       []*BoneKeyframe
	Morphs      []*MorphKeyframe
	Cameras     []*CameraKeyframe
	Lights      []*LightKeyframe
	SelfShadows []*SelfShadowKeyframe
	Properties  []*PropertyKeyframe
}

type BoneKeyframe struct {
	Name     string
	Frame    uint32
	Position geom.Vector3
	Rotation geom.Quaternion
	Curves   BoneCurves
}

type MorphKeyframe struct {
	Name   string
	Frame  uint32
	Weight float32
}

type CameraKeyframe struct {
	Frame    uint32
	Distance float32
	Position geom.Vector3
	Rotation geom.Vector3 // euler radians
	Curves   CameraCurves
	FoV      uint32 // degrees
	// Perspective is false for orthographic shots.
	Perspective bool
}

type LightKeyframe struct {
	Frame     uint32
	Color     geom.Vector3
	Direction geom.Vector3
}

// Self-shadow modes.
const (
	SelfShadowOff uint8 = iota
	SelfShadowMode1
	SelfShadowMode2
)

type SelfShadowKeyframe struct {
	Frame uint32
	Mode  uint8
	// Distance is the shadow range in world units (the file stores it
	// folded as (10000-d)/100000).
	Distance float32
}

type IKState struct {
	Name    string
	Enabled bool
}

type PropertyKeyframe struct {
	Frame    uint32
	Visible  bool
	IKStates []*IKState
}

// RotationChannel collects one bone's rotation samples in frame order.
type RotationChannel struct {
	Target  string
	Frames  []uint32
	Samples []*geom.Quaternion
}

// MorphChannel collects one morph's weight samples in frame order.
type MorphChannel struct {
	Target  string
	Frames  []uint32
	Samples []float32
}

// RotationChannels groups bone keyframes by target name. Keyframes come
// back in frame order within each channel.
func (a *Animation) RotationChannels() map[string]*RotationChannel {
	r := map[string]*RotationChannel{}
	for _, s := range a.Bones {
		c, ok := r[s.Name]
		if !ok {
			c = &RotationChannel{Target: s.Name}
			r[s.Name] = c
		}
		c.Frames = append(c.Frames, s.Frame)
		c.Samples = append(c.Samples, &s.Rotation)
	}
	return r
}

// MorphChannels groups morph keyframes by target name.
func (a *Animation) MorphChannels() map[string]*MorphChannel {
	r := map[string]*MorphChannel{}
	for _, s := range a.Morphs {
		c, ok := r[s.Name]
		if !ok {
			c = &MorphChannel{Target: s.Name}
			r[s.Name] = c
		}
		c.Frames = append(c.Frames, s.Frame)
		c.Samples = append(c.Samples, s.Weight)
	}
	return r
}

// MaxFrame returns the highest frame number on any track.
func (a *Animation) MaxFrame() uint32 {
	var n uint32
	for _, k := range a.Bones {
		if k.Frame > n {
			n = k.Frame
		}
	}
	for _, k := range a.Morphs {
		if k.Frame > n {
			n = k.Frame
		}
	}
	for _, k := range a.Cameras {
		if k.Frame > n {
			n = k.Frame
		}
	}
	return n
}

// VMDParser is a parser for .vmd motion data.
type VMDParser struct {
	baseParser
}

func NewVMDParser(r io.Reader) *VMDParser {
	return &VMDParser{baseParser: newBaseParser(r, "vmd")}
}

func (p *VMDParser) readBoneKeyframe() *BoneKeyframe {
	var k BoneKeyframe
	k.Name = p.readCString(15)
	k.Frame = p.readUint32()
	p.read(&k.Position)
	p.read(&k.Rotation)
	if k.Rotation.IsZero() {
		k.Rotation = *geom.NewIdentityQuaternion()
	}
	b := p.readBytes(64)
	if p.err == nil {
		k.Curves = decodeBoneCurves(b)
	}
	return &k
}

func (p *VMDParser) readCameraKeyframe() *CameraKeyframe {
	var k CameraKeyframe
	k.Frame = p.readUint32()
	k.Distance = p.readFloat()
	p.read(&k.Position)
	p.read(&k.Rotation)
	b := p.readBytes(24)
	if p.err == nil {
		k.Curves = decodeCameraCurves(b)
	}
	k.FoV = p.readUint32()
	k.Perspective = p.readUint8() == 0
	return &k
}

func (p *VMDParser) readSelfShadowKeyframe() *SelfShadowKeyframe {
	var k SelfShadowKeyframe
	k.Frame = p.readUint32()
	k.Mode = p.readUint8()
	k.Distance = 10000 - p.readFloat()*100000
	return &k
}

func (p *VMDParser) readPropertyKeyframe() *PropertyKeyframe {
	var k PropertyKeyframe
	k.Frame = p.readUint32()
	k.Visible = p.readUint8() != 0
	n := p.readCount()
	for i := 0; i < n && p.err == nil; i++ {
		k.IKStates = append(k.IKStates, &IKState{
			Name:    p.readCString(20),
			Enabled: p.readUint8() != 0,
		})
	}
	return &k
}

// tolerateEOF clears a truncation error hit inside the optional trailing
// sections. Files written by old tools end right after the morph block.
func (p *VMDParser) tolerateEOF() bool {
	if p.err == nil {
		return false
	}
	if pe, ok := p.err.(*ParseError); ok && pe.Truncated() {
		p.err = nil
		return true
	}
	return false
}

// Parse reads a whole motion. Keyframes come back sorted by frame number
// within each track; the sort is stable so same-frame duplicates keep
// their file order.
func (p *VMDParser) Parse() (*Animation, error) {
	var anim Animation

	p.section = "header"
	magic := p.readCString(30)
	if p.err != nil {
		return nil, p.err
	}
	if magic != vmdMagic {
		return nil, p.fail(errors.Errorf("bad magic %q", magic))
	}
	anim.ModelName = p.readCString(20)

	p.section = "bone keyframes"
	n := p.readCount()
	for i := 0; i < n && p.err == nil; i++ {
		anim.Bones = append(anim.Bones, p.readBoneKeyframe())
	}

	p.section = "morph keyframes"
	n = p.readCount()
	for i := 0; i < n && p.err == nil; i++ {
		anim.Morphs = append(anim.Morphs, p.readMorphKeyframe())
	}
	if p.err != nil {
		return nil, p.err
	}

	p.section = "camera keyframes"
	n = p.readCount()
	for i := 0; i < n && p.err == nil; i++ {
		k := p.readCameraKeyframe()
		if p.err == nil {
			anim.Cameras = append(anim.Cameras, k)
		}
	}

	if p.err == nil {
		p.section = "light keyframes"
		n = p.readCount()
		for i := 0; i < n && p.err == nil; i++ {
			var k LightKeyframe
			k.Frame = p.readUint32()
			p.read(&k.Color)
			p.read(&k.Direction)
			if p.err == nil {
				anim.Lights = append(anim.Lights, &k)
			}
		}
	}

	if p.err == nil {
		p.section = "self shadow keyframes"
		n = p.readCount()
		for i := 0; i < n && p.err == nil; i++ {
			k := p.readSelfShadowKeyframe()
			if p.err == nil {
				anim.SelfShadows = append(anim.SelfShadows, k)
			}
		}
	}

	if p.err == nil {
		p.section = "property keyframes"
		n = p.readCount()
		for i := 0; i < n && p.err == nil; i++ {
			k := p.readPropertyKeyframe()
			if p.err == nil {
				anim.Properties = append(anim.Properties, k)
			}
		}
	}

	if p.err != nil && !p.tolerateEOF() {
		return nil, p.err
	}

	sortKeyframes(&anim)
	return &anim, nil
}

func (p *VMDParser) readMorphKeyframe() *MorphKeyframe {
	var k MorphKeyframe
	k.Name = p.readCString(15)
	k.Frame = p.readUint32()
	k.Weight = p.readFloat()
	return &k
}

func sortKeyframes(a *Animation) {
	sort.SliceStable(a.Bones, func(i, j int) bool { return a.Bones[i].Frame < a.Bones[j].Frame })
	sort.SliceStable(a.Morphs, func(i, j int) bool { return a.Morphs[i].Frame < a.Morphs[j].Frame })
	sort.SliceStable(a.Cameras, func(i, j int) bool { return a.Cameras[i].Frame < a.Cameras[j].Frame })
	sort.SliceStable(a.Lights, func(i, j int) bool { return a.Lights[i].Frame < a.Lights[j].Frame })
	sort.SliceStable(a.SelfShadows, func(i, j int) bool { return a.SelfShadows[i].Frame < a.SelfShadows[j].Frame })
	sort.SliceStable(a.Properties, func(i, j int) bool { return a.Properties[i].Frame < a.Properties[j].Frame })
}

// ParseVMD reads a motion from r.
func ParseVMD(r io.Reader) (*Animation, error) {
	return NewVMDParser(r).Parse()
}
