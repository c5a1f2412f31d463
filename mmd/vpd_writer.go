package mmd

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

// VPDWriter serializes a Pose as .vpd text, cp932 encoded with CRLF line
// endings the way MikuMikuDance writes it.
type VPDWriter struct {
	w   *bufio.Writer
	err error
}

func NewVPDWriter(w io.Writer) *VPDWriter {
	return &VPDWriter{w: bufio.NewWriter(transform.NewWriter(w, japanese.ShiftJIS.NewEncoder()))}
}

func (w *VPDWriter) line(format string, args ...interface{}) {
	if w.err != nil {
		return
	}
	_, w.err = fmt.Fprintf(w.w, format+"\r\n", args...)
}

func vpdFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}

func (w *VPDWriter) Write(pose *Pose) error {
	w.line("%s", vpdMagic)
	w.line("")
	w.line("%s.osm;\t\t// 親ファイル名", pose.ModelName)
	w.line("%d;\t\t\t\t// 総ポーズボーン数", len(pose.Bones))
	w.line("")

	for i, b := range pose.Bones {
		w.line("Bone%d{%s", i, b.Name)
		w.line("  %s,%s,%s;\t\t\t\t// trans x,y,z", vpdFloat(b.Position[0]), vpdFloat(b.Position[1]), vpdFloat(b.Position[2]))
		w.line("  %s,%s,%s,%s;\t\t// Quaternion x,y,z,w", vpdFloat(b.Rotation[0]), vpdFloat(b.Rotation[1]), vpdFloat(b.Rotation[2]), vpdFloat(b.Rotation[3]))
		w.line("}")
		w.line("")
	}

	for i, m := range pose.Morphs {
		w.line("Morph%d{%s", i, m.Name)
		w.line("  %s;\t\t\t\t// weight", vpdFloat(m.Weight))
		w.line("}")
		w.line("")
	}

	if w.err != nil {
		return w.err
	}
	return w.w.Flush()
}

// WriteVPD serializes pose as VPD text.
func WriteVPD(pose *Pose, w io.Writer) error {
	return NewVPDWriter(w).Write(pose)
}
