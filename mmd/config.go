package mmd

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v2"
)

// IndexWidthPolicy selects the byte width of each reference kind written to
// a PMX file. A zero field means "smallest width that fits the element
// count". The boundaries follow PMXEditor's convention: signed widths must
// represent the count itself (128 bones need 2 bytes, 127 fit in 1) and the
// unsigned vertex width flips at 256/65536.
type IndexWidthPolicy struct {
	Vertex    byte `yaml:"vertex"`
	Texture   byte `yaml:"texture"`
	Material  byte `yaml:"material"`
	Bone      byte `yaml:"bone"`
	Morph     byte `yaml:"morph"`
	RigidBody byte `yaml:"rigid_body"`
}

func signedIndexWidth(count int) byte {
	if count <= 127 {
		return 1
	}
	if count <= 32767 {
		return 2
	}
	return 4
}

func unsignedIndexWidth(count int) byte {
	if count <= 255 {
		return 1
	}
	if count <= 65535 {
		return 2
	}
	return 4
}

func pickWidth(override byte, auto byte) (byte, error) {
	switch override {
	case 0:
		return auto, nil
	case 1, 2, 4:
		return override, nil
	}
	return 0, fmt.Errorf("invalid index width override %d", override)
}

// ExportOptions configures PMX/PMD serialization. The zero value (or a nil
// pointer) means: keep the document's string encoding, include English
// names, recompute every index width from the element counts.
type ExportOptions struct {
	// Encoding is "utf16" or "utf8" for PMX string fields. Empty keeps the
	// encoding recorded in the document header.
	Encoding string `yaml:"encoding"`

	// OmitEnglish drops English name fields (written as empty strings; the
	// PMD English trailer itself is always present).
	OmitEnglish bool `yaml:"omit_english"`

	Widths IndexWidthPolicy `yaml:"widths"`
}

// LoadExportOptions reads ExportOptions from a YAML document.
func LoadExportOptions(r io.Reader) (*ExportOptions, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var opt ExportOptions
	if err := yaml.Unmarshal(data, &opt); err != nil {
		return nil, err
	}
	if err := opt.validate(); err != nil {
		return nil, err
	}
	return &opt, nil
}

func (o *ExportOptions) validate() error {
	switch o.Encoding {
	case "", "utf8", "utf16":
	default:
		return fmt.Errorf("unknown encoding %q", o.Encoding)
	}
	for _, w := range []byte{o.Widths.Vertex, o.Widths.Texture, o.Widths.Material, o.Widths.Bone, o.Widths.Morph, o.Widths.RigidBody} {
		if _, err := pickWidth(w, 1); err != nil {
			return err
		}
	}
	return nil
}

// headerInfo rebuilds the PMX attribute table for doc from live element
// counts. Attribute bytes beyond the eight defined ones are carried over
// from the existing header untouched.
func (o *ExportOptions) headerInfo(doc *Document) ([]byte, error) {
	old := doc.Header.Info
	info := make([]byte, attrCount, attrCount)
	if len(old) > attrCount {
		info = append(info, old[attrCount:]...)
	}

	encoding := EncodingUTF16
	if len(old) > AttrStringEncoding {
		encoding = old[AttrStringEncoding]
	}
	switch o.Encoding {
	case "utf8":
		encoding = EncodingUTF8
	case "utf16":
		encoding = EncodingUTF16
	}
	info[AttrStringEncoding] = encoding

	extUV := 0
	for _, v := range doc.Vertexes {
		if len(v.ExtUVs) > extUV {
			extUV = len(v.ExtUVs)
		}
	}
	info[AttrExtUV] = byte(extUV)

	var err error
	set := func(attr int, override byte, auto byte) {
		if err != nil {
			return
		}
		info[attr], err = pickWidth(override, auto)
	}
	set(AttrVertIndexSz, o.Widths.Vertex, unsignedIndexWidth(len(doc.Vertexes)))
	set(AttrTexIndexSz, o.Widths.Texture, signedIndexWidth(len(doc.Textures)))
	set(AttrMatIndexSz, o.Widths.Material, signedIndexWidth(len(doc.Materials)))
	set(AttrBoneIndexSz, o.Widths.Bone, signedIndexWidth(len(doc.Bones)))
	set(AttrMorphIndexSz, o.Widths.Morph, signedIndexWidth(len(doc.Morphs)))
	set(AttrRBIndexSz, o.Widths.RigidBody, signedIndexWidth(len(doc.RigidBodies)))
	if err != nil {
		return nil, err
	}
	return info, nil
}
