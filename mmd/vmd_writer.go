package mmd

import (
	"io"
	"sort"
)

// VMDWriter serializes an Animation as .vmd binary data.
type VMDWriter struct {
	baseWriter
}

func NewVMDWriter(w io.Writer) *VMDWriter {
	return &VMDWriter{baseWriter: baseWriter{w: w}}
}

func (w *VMDWriter) writeBoneKeyframe(k *BoneKeyframe) {
	w.writeCString(k.Name, 15)
	w.writeUint32(k.Frame)
	w.write(&k.Position)
	w.write(&k.Rotation)
	w.writeBytes(encodeBoneCurves(k.Curves))
}

func (w *VMDWriter) writeCameraKeyframe(k *CameraKeyframe) {
	w.writeUint32(k.Frame)
	w.writeFloat(k.Distance)
	w.write(&k.Position)
	w.write(&k.Rotation)
	w.writeBytes(encodeCameraCurves(k.Curves))
	w.writeUint32(k.FoV)
	if k.Perspective {
		w.writeUint8(0)
	} else {
		w.writeUint8(1)
	}
}

// Write serializes anim. Named tracks are emitted grouped by target name
// and sorted by frame within each group; same-frame duplicates keep their
// input order.
func (w *VMDWriter) Write(anim *Animation) error {
	w.writeCString(vmdMagic, 30)
	w.writeCString(anim.ModelName, 20)

	bones := append([]*BoneKeyframe(nil), anim.Bones...)
	sort.SliceStable(bones, func(i, j int) bool {
		if bones[i].Name != bones[j].Name {
			return bones[i].Name < bones[j].Name
		}
		return bones[i].Frame < bones[j].Frame
	})
	w.writeInt(len(bones))
	for _, k := range bones {
		w.writeBoneKeyframe(k)
	}

	morphs := append([]*MorphKeyframe(nil), anim.Morphs...)
	sort.SliceStable(morphs, func(i, j int) bool {
		if morphs[i].Name != morphs[j].Name {
			return morphs[i].Name < morphs[j].Name
		}
		return morphs[i].Frame < morphs[j].Frame
	})
	w.writeInt(len(morphs))
	for _, k := range morphs {
		w.writeCString(k.Name, 15)
		w.writeUint32(k.Frame)
		w.writeFloat(k.Weight)
	}

	cameras := append([]*CameraKeyframe(nil), anim.Cameras...)
	sort.SliceStable(cameras, func(i, j int) bool { return cameras[i].Frame < cameras[j].Frame })
	w.writeInt(len(cameras))
	for _, k := range cameras {
		w.writeCameraKeyframe(k)
	}

	lights := append([]*LightKeyframe(nil), anim.Lights...)
	sort.SliceStable(lights, func(i, j int) bool { return lights[i].Frame < lights[j].Frame })
	w.writeInt(len(lights))
	for _, k := range lights {
		w.writeUint32(k.Frame)
		w.write(&k.Color)
		w.write(&k.Direction)
	}

	shadows := append([]*SelfShadowKeyframe(nil), anim.SelfShadows...)
	sort.SliceStable(shadows, func(i, j int) bool { return shadows[i].Frame < shadows[j].Frame })
	w.writeInt(len(shadows))
	for _, k := range shadows {
		w.writeUint32(k.Frame)
		w.writeUint8(k.Mode)
		w.writeFloat((10000 - k.Distance) / 100000)
	}

	props := append([]*PropertyKeyframe(nil), anim.Properties...)
	sort.SliceStable(props, func(i, j int) bool { return props[i].Frame < props[j].Frame })
	w.writeInt(len(props))
	for _, k := range props {
		w.writeUint32(k.Frame)
		if k.Visible {
			w.writeUint8(1)
		} else {
			w.writeUint8(0)
		}
		w.writeInt(len(k.IKStates))
		for _, s := range k.IKStates {
			w.writeCString(s.Name, 20)
			if s.Enabled {
				w.writeUint8(1)
			} else {
				w.writeUint8(0)
			}
		}
	}

	return w.err
}

// WriteVMD serializes anim as VMD.
func WriteVMD(anim *Animation, w io.Writer) error {
	return NewVMDWriter(w).Write(anim)
}
