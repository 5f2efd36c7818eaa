package apitable

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/objbridge/errors"
)

// HostModule is the module name under which the API table is exported.
const HostModule = "objbridge"

// InstallHost exports every populated Go function slot of t as a host
// function of module name in r. Guest extensions import the API from it.
func InstallHost(ctx context.Context, r wazero.Runtime, name string, t *Table) (api.Module, error) {
	if t == nil {
		return nil, errors.NotInitialized(errors.PhaseTable, "api table")
	}
	builder := r.NewHostModuleBuilder(name)

	exported := 0
	for _, fname := range t.layout.Functions {
		f, ok := t.Func(fname)
		if !ok {
			continue
		}
		builder.NewFunctionBuilder().
			WithGoFunction(f.Handler, f.Params, f.Results).
			WithName(f.Name).
			Export(f.Name)
		exported++
	}

	mod, err := builder.Instantiate(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseTable, errors.KindInstantiation, err, "instantiate host module "+name)
	}
	Logger().Debug("installed api host module", zap.String("module", name), zap.Int("functions", exported))
	return mod, nil
}
