package tools

import (
	goplugin "plugin"

	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
)

// PluginSymbol 是插件需要导出的符号名。
const PluginSymbol = "Tool"

// LoadPlugin 打开 Go 插件并读取导出的 Tool 符号，
// 符号可以是 Factory、*Factory 或 func() Tool。
func LoadPlugin(path string) (Factory, error) {
	if path == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "plugin path cannot be empty")
	}
	so, err := goplugin.Open(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "打开插件失败", xerrors.WithMetadata("path", path))
	}
	symbol, err := so.Lookup(PluginSymbol)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "插件缺少 Tool 符号", xerrors.WithMetadata("path", path))
	}
	return factoryFromSymbol(symbol)
}

func factoryFromSymbol(symbol any) (Factory, error) {
	switch f := symbol.(type) {
	case Factory:
		return f, nil
	case *Factory:
		if f != nil && *f != nil {
			return *f, nil
		}
	case func() Tool:
		return f, nil
	case *func() Tool:
		if f != nil && *f != nil {
			return *f, nil
		}
	}
	return nil, xerrors.New(xerrors.CodeInvalidArgument, "plugin symbol Tool must be a tools.Factory")
}
