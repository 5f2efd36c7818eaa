package apitable

import (
	_ "embed"
	"slices"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"go.uber.org/zap"

	"github.com/wippyai/objbridge/errors"
)

//go:embed default.hcl
var defaultManifest []byte

// Manifest is the jump table artifact: the exported symbols of the stub
// library plus the override lists that shape the final table.
type Manifest struct {
	// Functions are the scanned function exports in stub order.
	Functions []string `hcl:"functions,optional"`
	// Ignore names symbols that must not be registered.
	Ignore []string `hcl:"ignore,optional"`
	// Prototypes declare functions implemented only on the Go side. Their
	// names are appended after the scanned functions.
	Prototypes []string `hcl:"prototypes,optional"`
	// Data are the scanned data exports.
	Data []string `hcl:"data,optional"`
	// AlwaysRegister are data symbols filled even when not scanned.
	AlwaysRegister []string `hcl:"always_register,optional"`
	// DataPriority are data symbols filled first, in order.
	DataPriority []string `hcl:"data_priority,optional"`
}

// Layout is a resolved manifest.
type Layout struct {
	// Functions are the jump table slots in ordinal order.
	Functions []string
	// OrderedData are filled before Data, in this order.
	OrderedData []string
	// Data are the remaining data symbols, sorted.
	Data []string
	// Prototypes are the Go-side prototypes.
	Prototypes []string
}

// DataSymbols returns every data symbol in fill order.
func (l *Layout) DataSymbols() []string {
	out := make([]string, 0, len(l.OrderedData)+len(l.Data))
	out = append(out, l.OrderedData...)
	return append(out, l.Data...)
}

// ParseManifest decodes a manifest from HCL source.
func ParseManifest(src []byte, filename string) (*Manifest, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, errors.ParseFailed(errors.PhaseTable, "manifest "+filename, diags)
	}
	return decodeManifest(file.Body, filename)
}

// LoadManifest reads and decodes a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, errors.ParseFailed(errors.PhaseTable, "manifest "+path, diags)
	}
	return decodeManifest(file.Body, path)
}

// DefaultManifest returns the built-in manifest covering the API this
// module implements.
func DefaultManifest() *Manifest {
	m, err := ParseManifest(defaultManifest, "default.hcl")
	if err != nil {
		panic("apitable: bad built-in manifest: " + err.Error())
	}
	return m
}

func decodeManifest(body hcl.Body, filename string) (*Manifest, error) {
	var m Manifest
	if diags := gohcl.DecodeBody(body, nil, &m); diags.HasErrors() {
		return nil, errors.ParseFailed(errors.PhaseTable, "manifest "+filename, diags)
	}
	Logger().Debug("decoded manifest",
		zap.String("file", filename),
		zap.Int("functions", len(m.Functions)),
		zap.Int("prototypes", len(m.Prototypes)),
		zap.Int("data", len(m.Data)))
	return &m, nil
}

// Layout merges the override lists into the final table layout:
// ignored functions are dropped, prototype names are appended, the
// always-register list is added to the data symbols, ignored data is
// removed and priority symbols are moved to the front.
func (m *Manifest) Layout() (*Layout, error) {
	ignores := make(map[string]struct{}, len(m.Ignore))
	for _, name := range m.Ignore {
		ignores[name] = struct{}{}
	}

	l := &Layout{Prototypes: slices.Clone(m.Prototypes)}
	seen := make(map[string]struct{}, len(m.Functions)+len(m.Prototypes))
	addFunc := func(name string) {
		if _, dup := seen[name]; dup {
			Logger().Debug("duplicate function in manifest", zap.String("name", name))
			return
		}
		seen[name] = struct{}{}
		l.Functions = append(l.Functions, name)
	}
	for _, name := range m.Functions {
		if _, skip := ignores[name]; !skip {
			addFunc(name)
		}
	}
	for _, proto := range m.Prototypes {
		p, err := ParsePrototype(proto)
		if err != nil {
			return nil, err
		}
		addFunc(p.Name)
	}

	data := make(map[string]struct{}, len(m.Data)+len(m.AlwaysRegister))
	for _, name := range m.Data {
		data[name] = struct{}{}
	}
	for _, name := range m.AlwaysRegister {
		data[name] = struct{}{}
	}
	for name := range ignores {
		delete(data, name)
	}
	for _, name := range m.DataPriority {
		delete(data, name)
		if !slices.Contains(l.OrderedData, name) {
			l.OrderedData = append(l.OrderedData, name)
		}
	}
	l.Data = make([]string, 0, len(data))
	for name := range data {
		l.Data = append(l.Data, name)
	}
	sort.Strings(l.Data)
	return l, nil
}
