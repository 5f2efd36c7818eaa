package runtime

import (
	"github.com/docker/go-units"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"go.uber.org/zap"

	objbridge "github.com/wippyai/objbridge"
	"github.com/wippyai/objbridge/errors"
	"github.com/wippyai/objbridge/mapper"
)

// Config configures a Runtime.
type Config struct {
	// Logger receives runtime logs. It is also installed as the logger of
	// the mapper, dispatch, memory and apitable packages. Nil keeps the
	// no-op loggers.
	Logger *zap.Logger

	// ManifestPath names an HCL jump table manifest. Empty uses the
	// built-in manifest.
	ManifestPath string `hcl:"manifest,optional"`

	// HeapLimit caps the foreign heap, as a human size such as "64MiB".
	// Empty means no cap below the end of foreign memory.
	HeapLimit string `hcl:"heap_limit,optional"`

	// HeapBase is the first address the heap hands out. Memory below it
	// belongs to the extension.
	HeapBase uint32 `hcl:"heap_base,optional"`

	// MemoryPages is the initial size of memory the runtime creates itself.
	MemoryPages uint32 `hcl:"memory_pages,optional"`

	// GCThreshold is the number of foreign allocations between wrapper
	// sweeps.
	GCThreshold int `hcl:"gc_threshold,optional"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		HeapBase:    16 * objbridge.PageSize,
		HeapLimit:   "64MiB",
		MemoryPages: 32,
		GCThreshold: mapper.DefaultGCThreshold,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HeapBase == 0 {
		c.HeapBase = d.HeapBase
	}
	if c.MemoryPages == 0 {
		c.MemoryPages = d.MemoryPages
	}
	if c.GCThreshold == 0 {
		c.GCThreshold = d.GCThreshold
	}
	return c
}

// heapLimit parses HeapLimit.
func (c Config) heapLimit() (uint32, error) {
	if c.HeapLimit == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(c.HeapLimit)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "heap_limit "+c.HeapLimit)
	}
	if n <= int64(c.HeapBase) || n > 1<<32 {
		return 0, errors.New(errors.PhaseConfig, errors.KindOutOfBounds).
			Path("heap_limit").
			Value(c.HeapLimit).
			Detail("limit must lie between heap_base %s and 4GiB", units.BytesSize(float64(c.HeapBase))).
			Build()
	}
	if n == 1<<32 {
		return 0, nil
	}
	return uint32(n), nil
}

// MemoryLimitPages returns the number of wasm pages needed to hold the heap
// up to HeapLimit. Hosts that own the memory cap it with this value.
func (c Config) MemoryLimitPages() (uint32, error) {
	c = c.withDefaults()
	limit, err := c.heapLimit()
	if err != nil {
		return 0, err
	}
	if limit == 0 {
		return 1 << 16, nil
	}
	pages := (uint64(limit) + objbridge.PageSize - 1) / objbridge.PageSize
	return uint32(max(pages, uint64(c.MemoryPages))), nil
}

// configContext exposes the ABI constants to config expressions, so a file
// can say heap_base = 16 * page_size.
func configContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"page_size": cty.NumberUIntVal(objbridge.PageSize),
			"ptr_size":  cty.NumberUIntVal(objbridge.PtrSize),
		},
	}
}

// LoadConfig reads an HCL config file. Fields the file leaves out keep
// their defaults.
func LoadConfig(path string) (Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return Config{}, errors.ParseFailed(errors.PhaseConfig, "config "+path, diags)
	}
	return decodeConfig(file.Body, path)
}

// ParseConfig decodes a config from HCL source.
func ParseConfig(src []byte, filename string) (Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return Config{}, errors.ParseFailed(errors.PhaseConfig, "config "+filename, diags)
	}
	return decodeConfig(file.Body, filename)
}

func decodeConfig(body hcl.Body, filename string) (Config, error) {
	cfg := DefaultConfig()
	if diags := gohcl.DecodeBody(body, configContext(), &cfg); diags.HasErrors() {
		return Config{}, errors.ParseFailed(errors.PhaseConfig, "config "+filename, diags)
	}
	if _, err := cfg.heapLimit(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
