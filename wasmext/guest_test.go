package wasmext

import (
	"encoding/binary"

	"github.com/wippyai/objbridge/memory"
)

// Instruction opcodes used by the test guest.
const (
	opUnreachable  = 0x00
	opEnd          = 0x0b
	opDrop         = 0x1a
	opCall         = 0x10
	opCallIndirect = 0x11
	opLocalGet     = 0x20
	opGlobalGet    = 0x23
	opI32Load      = 0x28
	opI32Const     = 0x41
	opI32Mul       = 0x6c

	valI32  = 0x7f
	funcRef = 0x70
)

// Guest memory layout of the ham extension's static data.
const (
	hamName    = 1024
	hamDoc     = 1028
	doubleName = 1040
	failName   = 1048
	trapName   = 1056
	boomText   = 1064
	doubleDoc  = 1072
	hamMethods = 1104
)

type funcType struct{ params, results int }

func (f funcType) encode() []byte {
	b := []byte{0x60}
	b = appendU32(b, uint32(f.params))
	for range f.params {
		b = append(b, valI32)
	}
	b = appendU32(b, uint32(f.results))
	for range f.results {
		b = append(b, valI32)
	}
	return b
}

type guestImport struct {
	module, name string
	typ          uint32
}

type guestFunc struct {
	typ  uint32
	body []byte
}

type guestExport struct {
	name  string
	kind  byte
	index uint32
}

// guestModule is a hand-assembled wasm32 extension.
type guestModule struct {
	types    []funcType
	imports  []guestImport
	memory   bool
	funcs    []guestFunc
	table    []uint32 // function indices placed at table slot 1..n
	globals  int      // mutable i32 globals, initialised to 0
	exports  []guestExport
	dataAddr uint32
	data     []byte
}

func (g *guestModule) encode() []byte {
	out := []byte(wasmMagic + wasmVersion)

	var body []byte
	for _, t := range g.types {
		body = append(body, t.encode()...)
	}
	out = appendSection(out, sectionType, len(g.types), body)

	body = nil
	n := len(g.imports)
	for _, im := range g.imports {
		body = appendName(body, im.module)
		body = appendName(body, im.name)
		body = appendU32(append(body, externFunc), im.typ)
	}
	if g.memory {
		body = appendName(body, EnvModule)
		body = appendName(body, MemoryExport)
		body = appendLimits(append(body, externMemory), 1, 0, false)
		n++
	}
	out = appendSection(out, sectionImport, n, body)

	body = nil
	for _, f := range g.funcs {
		body = appendU32(body, f.typ)
	}
	out = appendSection(out, sectionFunction, len(g.funcs), body)

	if len(g.table) > 0 {
		body = appendLimits([]byte{funcRef}, uint32(len(g.table)+1), 0, false)
		out = appendSection(out, sectionTable, 1, body)
	}

	if g.globals > 0 {
		body = nil
		for range g.globals {
			body = append(body, valI32, 0x01, opI32Const, 0x00, opEnd)
		}
		out = appendSection(out, sectionGlobal, g.globals, body)
	}

	body = nil
	for _, e := range g.exports {
		body = appendName(body, e.name)
		body = appendU32(append(body, e.kind), e.index)
	}
	out = appendSection(out, sectionExport, len(g.exports), body)

	if len(g.table) > 0 {
		body = []byte{0x00, opI32Const, 0x01, opEnd}
		body = appendU32(body, uint32(len(g.table)))
		for _, idx := range g.table {
			body = appendU32(body, idx)
		}
		out = appendSection(out, sectionElement, 1, body)
	}

	body = nil
	for _, f := range g.funcs {
		entry := append([]byte{0x00}, f.body...)
		body = appendU32(body, uint32(len(entry)))
		body = append(body, entry...)
	}
	out = appendSection(out, sectionCode, len(g.funcs), body)

	if len(g.data) > 0 {
		body = appendI32([]byte{0x00, opI32Const}, int32(g.dataAddr))
		body = append(body, opEnd)
		body = appendU32(body, uint32(len(g.data)))
		body = append(body, g.data...)
		out = appendSection(out, sectionData, 1, body)
	}
	return out
}

func i32(v int32) []byte { return appendI32([]byte{opI32Const}, v) }

func seq(parts ...[]byte) []byte {
	var b []byte
	for _, p := range parts {
		b = append(b, p...)
	}
	return b
}

func code(parts ...[]byte) []byte { return append(seq(parts...), opEnd) }

// hamData lays out the strings and the PyMethodDef array of module ham.
func hamData() []byte {
	data := make([]byte, hamMethods+4*memory.MethodDef.Size-hamName)
	put := func(addr uint32, s string) { copy(data[addr-hamName:], s+"\x00") }
	put(hamName, "ham")
	put(hamDoc, "ham docs")
	put(doubleName, "double")
	put(failName, "fail")
	put(trapName, "trap")
	put(boomText, "boom")
	put(doubleDoc, "double(n) -> 2n")

	defs := []struct{ name, table, flags, doc uint32 }{
		{doubleName, 1, memory.MethO, doubleDoc},
		{failName, 2, memory.MethNoArgs, 0},
		{trapName, 3, memory.MethNoArgs, 0},
	}
	for i, d := range defs {
		off := hamMethods - hamName + uint32(i)*memory.MethodDef.Size
		binary.LittleEndian.PutUint32(data[off:], d.name)
		binary.LittleEndian.PutUint32(data[off+4:], d.table)
		binary.LittleEndian.PutUint32(data[off+8:], d.flags)
		binary.LittleEndian.PutUint32(data[off+12:], d.doc)
	}
	return data
}

type hamOptions struct {
	noInit      bool
	noDynCall   bool
	raiseInInit bool
}

// hamModule assembles extension ham: double (METH_O), fail (raises
// ValueError "boom") and trap (executes unreachable).
func hamModule(opts hamOptions) []byte {
	const (
		tInit4 = iota // (i32 x5) -> i32
		tII           // (i32) -> i32
		tVII          // (i32, i32) -> ()
		tIII          // (i32, i32) -> i32
		tV            // () -> ()
		tIIII         // (i32, i32, i32) -> i32
	)
	const (
		fInitModule = iota
		fFromLong
		fAsLong
		fSetString
		fDouble
		fFail
		fTrap
		fInit
		fDynCall
	)
	setBoom := seq(
		[]byte{opGlobalGet, 0x00, opI32Load, 0x02, 0x00},
		i32(boomText),
		[]byte{opCall, fSetString},
	)

	initBody := code(
		i32(hamName), i32(hamMethods), i32(hamDoc), i32(0), i32(1013),
		[]byte{opCall, fInitModule, opDrop},
	)
	if opts.raiseInInit {
		initBody = code(setBoom)
	}

	g := &guestModule{
		types: []funcType{{5, 1}, {1, 1}, {2, 0}, {2, 1}, {0, 0}, {3, 1}},
		imports: []guestImport{
			{"objbridge", "Py_InitModule4", tInit4},
			{"objbridge", "PyInt_FromLong", tII},
			{"objbridge", "PyInt_AsLong", tII},
			{"objbridge", "PyErr_SetString", tVII},
		},
		memory: true,
		funcs: []guestFunc{
			{tIII, code(
				[]byte{opLocalGet, 0x01, opCall, fAsLong},
				i32(2),
				[]byte{opI32Mul, opCall, fFromLong},
			)},
			{tIII, code(setBoom, i32(0))},
			{tIII, code([]byte{opUnreachable})},
			{tV, initBody},
			{tIIII, code(
				[]byte{opLocalGet, 0x01, opLocalGet, 0x02, opLocalGet, 0x00},
				[]byte{opCallIndirect, tIII, 0x00},
			)},
		},
		table:   []uint32{fDouble, fFail, fTrap},
		globals: 1,
		exports: []guestExport{
			{"PyExc_ValueError", externGlobal, 0},
		},
		dataAddr: hamName,
		data:     hamData(),
	}
	if !opts.noInit {
		g.exports = append(g.exports, guestExport{"initham", externFunc, fInit})
	}
	if !opts.noDynCall {
		g.exports = append(g.exports, guestExport{"dynCall_iii", externFunc, fDynCall})
	}
	return g.encode()
}
