// Package mp4 parses and rewrites the ISO/IEC 14496-12 (MP4/ISO-BMFF) box
// tree of a movie file so that playback can begin at an arbitrary millisecond
// offset: it trims moov's sample tables to describe only samples from that
// point on, relocates chunk offsets for the new layout, and reports the byte
// range of mdat the caller must stream after the rewritten metadata.
//
// The package has no knowledge of HTTP or object storage; see httpstream for
// that.
package mp4

// BoxType is a 4-byte ISO-BMFF box type tag.
type BoxType [4]byte

func (t BoxType) String() string { return string(t[:]) }

func bt(s string) BoxType {
	var t BoxType
	copy(t[:], s)
	return t
}

// Box type tags relevant to the rewrite engine and to the container tree it
// walks. Unlisted tags are never constructed as bespoke nodes; they become
// opaque leaves or, if they fall in the container set below, generic
// containers that are parsed but (absent an update_order entry) dropped.
var (
	TypeFtyp = bt("ftyp")
	TypeMoov = bt("moov")
	TypeMvhd = bt("mvhd")
	TypeTrak = bt("trak")
	TypeTkhd = bt("tkhd")
	TypeEdts = bt("edts")
	TypeElst = bt("elst")
	TypeMdia = bt("mdia")
	TypeMdhd = bt("mdhd")
	TypeHdlr = bt("hdlr")
	TypeMinf = bt("minf")
	TypeVmhd = bt("vmhd")
	TypeSmhd = bt("smhd")
	TypeDinf = bt("dinf")
	TypeStbl = bt("stbl")
	TypeStsd = bt("stsd")
	TypeStts = bt("stts")
	TypeStss = bt("stss")
	TypeCtts = bt("ctts")
	TypeStsc = bt("stsc")
	TypeStsz = bt("stsz")
	TypeStco = bt("stco")
	TypeCo64 = bt("co64")
	TypeMvex = bt("mvex")
	TypeMoof = bt("moof")
	TypeTraf = bt("traf")
	TypeMfra = bt("mfra")
	TypeSkip = bt("skip")
	TypeUdta = bt("udta")
	TypeMeta = bt("meta")
	TypeIpro = bt("ipro")
	TypeSinf = bt("sinf")
	TypeFiin = bt("fiin")
	TypePaen = bt("paen")
	TypeMeco = bt("meco")
	TypeCmov = bt("cmov")
	TypeMdat = bt("mdat")
	TypeFree = bt("free")
)

// containerTypes is the set of box tags whose payload is a run of child
// boxes. A box outside this set is always an opaque leaf.
var containerTypes = map[BoxType]bool{
	TypeMoov: true, TypeTrak: true, TypeEdts: true, TypeMdia: true,
	TypeMinf: true, TypeDinf: true, TypeStbl: true, TypeMvex: true,
	TypeMoof: true, TypeTraf: true, TypeMfra: true, TypeSkip: true,
	TypeUdta: true, TypeMeta: true, TypeIpro: true, TypeSinf: true,
	TypeFiin: true, TypePaen: true, TypeMeco: true,
}

func isContainerType(t BoxType) bool { return containerTypes[t] }

// Mandatory traversal orders. A container's update and
// emit logic walks its children in this order regardless of on-disk layout;
// children whose type isn't listed are parsed (if a container) but never
// visited by update, so they default to copy=false and are dropped.
var (
	// moov's order literally includes cmov (inert: parseBox already rejects
	// a compressed movie header with ErrAtomNotSupported, so no cmov box
	// ever reaches update) and tkhd (inert: moov has no direct tkhd child,
	// but the original traversal table lists it so the lookup stays
	// harmless rather than silently dropping a misplaced box).
	moovOrder = []BoxType{TypeCmov, TypeMvhd, TypeTrak, TypeTkhd}
	trakOrder = []BoxType{TypeTkhd, TypeMdia}
	mdiaOrder = []BoxType{TypeMdhd, TypeHdlr, TypeMinf}
	minfOrder = []BoxType{TypeVmhd, TypeSmhd, TypeDinf, TypeStbl}
	stblOrder = []BoxType{TypeStsd, TypeStts, TypeStss, TypeCtts, TypeStsc, TypeStsz, TypeStco, TypeCo64}

	// topLevelOrder governs both update and emit at the root: ftyp, moov,
	// mdat in that fixed sequence. See DESIGN.md for why this departs from
	// pure on-disk order (CHUNK_OFFSET only accumulates correctly this way).
	topLevelOrder = []BoxType{TypeFtyp, TypeMoov, TypeMdat}
)
