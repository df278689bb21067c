package sandbox

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"cad-copilot/backend/internal/geometry"
	"cad-copilot/backend/internal/jscad"
	"cad-copilot/backend/internal/models"
)

const harnessName = "model.js"

// User code runs inside a function so `return main()` is legal at top
// level. The second line hides host globals from the program.
const harnessPrefix = "(function (jscad) {\n" +
	"var globalThis = undefined, console = undefined;\n"

// Programs that define main without returning it still get evaluated.
const harnessSuffix = "\n;if (typeof main === \"function\") { return main() }\n})"

// harnessOffset is the number of lines the prefix adds before user code.
var harnessOffset = strings.Count(harnessPrefix, "\n")

func wrap(code string) string {
	return harnessPrefix + code + harnessSuffix
}

// run compiles and executes code in vm and returns the solids produced.
func run(vm *goja.Runtime, code string) (solids []geometry.Solid, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &EvalError{Descriptor: models.ErrorDescriptor{
				Kind:    "InternalError",
				Message: fmt.Sprint(r),
			}}
		}
	}()

	prog, err := goja.Compile(harnessName, wrap(code), false)
	if err != nil {
		return nil, err
	}
	v, err := vm.RunProgram(prog)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, &EvalError{Descriptor: models.ErrorDescriptor{Kind: "InternalError", Message: "harness did not produce a function"}}
	}
	ret, err := fn(goja.Undefined(), jscad.New(vm))
	if err != nil {
		return nil, err
	}
	return collect(ret)
}

func collect(v goja.Value) ([]geometry.Solid, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, &EvalError{Descriptor: models.ErrorDescriptor{
			Kind:    "TypeError",
			Message: "the program did not return any geometry, make sure it ends with \"return main()\"",
		}}
	}

	var out []geometry.Solid
	var walk func(x interface{}) error
	walk = func(x interface{}) error {
		switch s := x.(type) {
		case *jscad.Solid:
			out = append(out, s)
		case []interface{}:
			for _, e := range s {
				if err := walk(e); err != nil {
					return err
				}
			}
		default:
			return &EvalError{Descriptor: models.ErrorDescriptor{
				Kind:    "TypeError",
				Message: fmt.Sprintf("main() must return geometry, got %T", x),
			}}
		}
		return nil
	}
	if err := walk(v.Export()); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, &EvalError{Descriptor: models.ErrorDescriptor{Kind: "TypeError", Message: "main() returned an empty list of geometries"}}
	}
	return out, nil
}
