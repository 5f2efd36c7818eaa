package wasmext

import "bytes"

// Binary format constants used by the env module encoder.
const (
	wasmMagic   = "\x00asm"
	wasmVersion = "\x01\x00\x00\x00"

	sectionType     byte = 1
	sectionImport   byte = 2
	sectionFunction byte = 3
	sectionTable    byte = 4
	sectionMemory   byte = 5
	sectionGlobal   byte = 6
	sectionExport   byte = 7
	sectionElement  byte = 9
	sectionCode     byte = 10
	sectionData     byte = 11

	externFunc   byte = 0x00
	externTable  byte = 0x01
	externMemory byte = 0x02
	externGlobal byte = 0x03

	limitsMin    byte = 0x00
	limitsMinMax byte = 0x01
)

// appendU32 appends v as unsigned LEB128.
func appendU32(b []byte, v uint32) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		b = append(b, c)
		if v == 0 {
			return b
		}
	}
}

// appendI32 appends v as signed LEB128.
func appendI32(b []byte, v int32) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0)
		if !done {
			c |= 0x80
		}
		b = append(b, c)
		if done {
			return b
		}
	}
}

func appendName(b []byte, s string) []byte {
	b = appendU32(b, uint32(len(s)))
	return append(b, s...)
}

func appendLimits(b []byte, lo, hi uint32, hasMax bool) []byte {
	if !hasMax {
		return appendU32(append(b, limitsMin), lo)
	}
	b = appendU32(append(b, limitsMinMax), lo)
	return appendU32(b, hi)
}

// appendSection appends a section with its size prefix. count is the
// number of entries; the entries themselves are in body.
func appendSection(b []byte, id byte, count int, body []byte) []byte {
	payload := appendU32(nil, uint32(count))
	payload = append(payload, body...)
	b = append(b, id)
	b = appendU32(b, uint32(len(payload)))
	return append(b, payload...)
}

// envModule encodes a module that defines one memory and exports it as
// "memory". Guests import it from "env", so the runtime heap and the guest
// share one address space.
func envModule(pages, maxPages uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString(wasmMagic)
	buf.WriteString(wasmVersion)

	mem := appendLimits(nil, pages, maxPages, true)
	exp := appendName(nil, "memory")
	exp = append(exp, externMemory)
	exp = appendU32(exp, 0)

	out := appendSection(buf.Bytes(), sectionMemory, 1, mem)
	return appendSection(out, sectionExport, 1, exp)
}
