package integration

import (
	"time"

	"github.com/rs/zerolog"
)

// Toolchain binds every external engine the pipeline drives.
type Toolchain struct {
	Compiler         Invoker
	FallbackCompiler Invoker
	Extractor        Invoker
	Rasterizer       Invoker
	Recognizer       Invoker
	Annotator        Invoker
}

type ToolchainOptions struct {
	Compiler         ToolOptions
	FallbackCompiler ToolOptions
	Extractor        ToolOptions
	Rasterizer       ToolOptions
	Recognizer       ToolOptions
	Annotator        ToolOptions
}

func NewToolchain(opts ToolchainOptions, logger zerolog.Logger) *Toolchain {
	build := func(name string, o ToolOptions) Invoker {
		if o.Name == "" {
			o.Name = name
		}
		if o.Timeout <= 0 {
			o.Timeout = 10 * time.Minute
		}
		return NewCommandInvoker(o, logger)
	}

	return &Toolchain{
		Compiler:         build("compiler", opts.Compiler),
		FallbackCompiler: build("fallback_compiler", opts.FallbackCompiler),
		Extractor:        build("extractor", opts.Extractor),
		Rasterizer:       build("rasterizer", opts.Rasterizer),
		Recognizer:       build("recognizer", opts.Recognizer),
		Annotator:        build("annotator", opts.Annotator),
	}
}
