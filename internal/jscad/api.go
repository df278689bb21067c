package jscad

import (
	"fmt"
	"math"
	"strings"

	"github.com/dop251/goja"

	"cad-copilot/backend/internal/geometry"
)

const defaultSegments = 32

// binder exposes the kernel to one runtime. Argument errors are thrown as
// JavaScript TypeErrors so they surface through the normal error path.
type binder struct {
	vm *goja.Runtime
}

// New builds the `jscad` namespace object for vm.
func New(vm *goja.Runtime) *goja.Object {
	b := &binder{vm: vm}
	ns := vm.NewObject()

	b.group(ns, "primitives", map[string]func(goja.FunctionCall) goja.Value{
		"cube":     b.cube,
		"cuboid":   b.cuboid,
		"sphere":   b.sphere,
		"cylinder": b.cylinder,
	})
	b.group(ns, "transforms", map[string]func(goja.FunctionCall) goja.Value{
		"translate":  b.translate,
		"translateX": b.translateAxis(0),
		"translateY": b.translateAxis(1),
		"translateZ": b.translateAxis(2),
		"rotate":     b.rotate,
		"rotateX":    b.rotateAxis(geometry.RotationX),
		"rotateY":    b.rotateAxis(geometry.RotationY),
		"rotateZ":    b.rotateAxis(geometry.RotationZ),
		"scale":      b.scale,
	})
	b.group(ns, "booleans", map[string]func(goja.FunctionCall) goja.Value{
		"union":     b.boolean(Union),
		"subtract":  b.boolean(Subtract),
		"intersect": b.boolean(Intersect),
	})
	b.group(ns, "colors", map[string]func(goja.FunctionCall) goja.Value{
		"colorize":       b.colorize,
		"colorNameToRgb": b.colorNameToRgb,
	})
	b.group(ns, "utils", map[string]func(goja.FunctionCall) goja.Value{
		"degToRad": func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(b.number(call.Argument(0).Export(), "degToRad") * math.Pi / 180)
		},
		"radToDeg": func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(b.number(call.Argument(0).Export(), "radToDeg") * 180 / math.Pi)
		},
	})

	maths := vm.NewObject()
	constants := vm.NewObject()
	_ = constants.Set("TAU", 2*math.Pi)
	_ = constants.Set("PI", math.Pi)
	_ = maths.Set("constants", constants)
	_ = ns.Set("maths", maths)

	return ns
}

func (b *binder) group(ns *goja.Object, name string, fns map[string]func(goja.FunctionCall) goja.Value) {
	obj := b.vm.NewObject()
	for k, fn := range fns {
		_ = obj.Set(k, fn)
	}
	_ = ns.Set(name, obj)
}

func (b *binder) throw(format string, args ...interface{}) {
	panic(b.vm.NewTypeError(fmt.Sprintf(format, args...)))
}

func (b *binder) options(call goja.FunctionCall, fn string) map[string]interface{} {
	arg := call.Argument(0)
	if goja.IsUndefined(arg) || goja.IsNull(arg) {
		return map[string]interface{}{}
	}
	opts, ok := arg.Export().(map[string]interface{})
	if !ok {
		b.throw("%s: expected an options object", fn)
	}
	return opts
}

func (b *binder) number(v interface{}, what string) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			b.throw("%s must be a finite number", what)
		}
		return n
	}
	b.throw("%s must be a number, got %T", what, v)
	return 0
}

func (b *binder) optNumber(opts map[string]interface{}, key string, def float64, fn string) float64 {
	v, ok := opts[key]
	if !ok || v == nil {
		return def
	}
	return b.number(v, fn+": "+key)
}

func (b *binder) vec3(v interface{}, what string) geometry.Vec3 {
	arr, ok := v.([]interface{})
	if !ok || len(arr) < 2 || len(arr) > 3 {
		b.throw("%s must be an array of 2 or 3 numbers", what)
	}
	var out geometry.Vec3
	for i, x := range arr {
		out[i] = b.number(x, what)
	}
	return out
}

func (b *binder) optVec3(opts map[string]interface{}, key string, def geometry.Vec3, fn string) geometry.Vec3 {
	v, ok := opts[key]
	if !ok || v == nil {
		return def
	}
	return b.vec3(v, fn+": "+key)
}

// solids flattens arguments, accepting nested arrays the way JSCAD does.
func (b *binder) solids(args []goja.Value, fn string) []*Solid {
	var out []*Solid
	var walk func(v interface{})
	walk = func(v interface{}) {
		switch x := v.(type) {
		case *Solid:
			out = append(out, x)
		case []interface{}:
			for _, e := range x {
				walk(e)
			}
		default:
			b.throw("%s: expected geometry, got %T", fn, v)
		}
	}
	for _, a := range args {
		walk(a.Export())
	}
	if len(out) == 0 {
		b.throw("%s: no geometries given", fn)
	}
	return out
}

func tail(args []goja.Value) []goja.Value {
	if len(args) < 2 {
		return nil
	}
	return args[1:]
}

// result returns a single solid or an array, matching the arity JSCAD uses.
func (b *binder) result(solids []*Solid) goja.Value {
	if len(solids) == 1 {
		return b.vm.ToValue(solids[0])
	}
	vals := make([]interface{}, len(solids))
	for i, s := range solids {
		vals[i] = s
	}
	return b.vm.NewArray(vals...)
}

func (b *binder) cube(call goja.FunctionCall) goja.Value {
	opts := b.options(call, "cube")
	size := b.optNumber(opts, "size", 2, "cube")
	if size <= 0 {
		b.throw("cube: size must be positive")
	}
	center := b.optVec3(opts, "center", geometry.Vec3{}, "cube")
	return b.vm.ToValue(Cuboid(geometry.Vec3{size, size, size}, center))
}

func (b *binder) cuboid(call goja.FunctionCall) goja.Value {
	opts := b.options(call, "cuboid")
	size := b.optVec3(opts, "size", geometry.Vec3{2, 2, 2}, "cuboid")
	if size[0] <= 0 || size[1] <= 0 || size[2] <= 0 {
		b.throw("cuboid: size must be positive")
	}
	center := b.optVec3(opts, "center", geometry.Vec3{}, "cuboid")
	return b.vm.ToValue(Cuboid(size, center))
}

func (b *binder) sphere(call goja.FunctionCall) goja.Value {
	opts := b.options(call, "sphere")
	radius := b.optNumber(opts, "radius", 1, "sphere")
	if radius <= 0 {
		b.throw("sphere: radius must be positive")
	}
	segments := int(b.optNumber(opts, "segments", defaultSegments, "sphere"))
	center := b.optVec3(opts, "center", geometry.Vec3{}, "sphere")
	return b.vm.ToValue(Sphere(radius, segments, center))
}

func (b *binder) cylinder(call goja.FunctionCall) goja.Value {
	opts := b.options(call, "cylinder")
	height := b.optNumber(opts, "height", 2, "cylinder")
	radius := b.optNumber(opts, "radius", 1, "cylinder")
	if height <= 0 || radius <= 0 {
		b.throw("cylinder: height and radius must be positive")
	}
	segments := int(b.optNumber(opts, "segments", defaultSegments, "cylinder"))
	center := b.optVec3(opts, "center", geometry.Vec3{}, "cylinder")
	return b.vm.ToValue(Cylinder(height, radius, segments, center))
}

func (b *binder) apply(call goja.FunctionCall, fn string, m geometry.Mat4) goja.Value {
	solids := b.solids(tail(call.Arguments), fn)
	out := make([]*Solid, len(solids))
	for i, s := range solids {
		out[i] = s.transformed(m)
	}
	return b.result(out)
}

func (b *binder) translate(call goja.FunctionCall) goja.Value {
	v := b.vec3(call.Argument(0).Export(), "translate: offset")
	return b.apply(call, "translate", geometry.Translation(v))
}

func (b *binder) translateAxis(axis int) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		var v geometry.Vec3
		v[axis] = b.number(call.Argument(0).Export(), "translate: offset")
		return b.apply(call, "translate", geometry.Translation(v))
	}
}

func (b *binder) rotate(call goja.FunctionCall) goja.Value {
	a := b.vec3(call.Argument(0).Export(), "rotate: angles")
	m := geometry.RotationZ(a[2]).Mul(geometry.RotationY(a[1])).Mul(geometry.RotationX(a[0]))
	return b.apply(call, "rotate", m)
}

func (b *binder) rotateAxis(rot func(float64) geometry.Mat4) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		angle := b.number(call.Argument(0).Export(), "rotate: angle")
		return b.apply(call, "rotate", rot(angle))
	}
}

func (b *binder) scale(call goja.FunctionCall) goja.Value {
	v := b.vec3(call.Argument(0).Export(), "scale: factors")
	if v[0] == 0 || v[1] == 0 || v[2] == 0 {
		b.throw("scale: factors must be non-zero")
	}
	return b.apply(call, "scale", geometry.Scaling(v))
}

func (b *binder) boolean(op func(...*Solid) *Solid) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		return b.vm.ToValue(op(b.solids(call.Arguments, "booleans")...))
	}
}

func (b *binder) colorize(call goja.FunctionCall) goja.Value {
	arr, ok := call.Argument(0).Export().([]interface{})
	if !ok || len(arr) < 3 || len(arr) > 4 {
		b.throw("colorize: color must be an array of 3 or 4 numbers")
	}
	c := [4]float64{0, 0, 0, 1}
	for i, x := range arr {
		c[i] = b.number(x, "colorize: color")
	}
	solids := b.solids(tail(call.Arguments), "colorize")
	out := make([]*Solid, len(solids))
	for i, s := range solids {
		out[i] = s.colorized(c)
	}
	return b.result(out)
}

var namedColors = map[string][3]float64{
	"black":  {0, 0, 0},
	"white":  {1, 1, 1},
	"red":    {1, 0, 0},
	"green":  {0, 0.5, 0},
	"lime":   {0, 1, 0},
	"blue":   {0, 0, 1},
	"yellow": {1, 1, 0},
	"orange": {1, 0.647, 0},
	"purple": {0.5, 0, 0.5},
	"brown":  {0.647, 0.165, 0.165},
	"gray":   {0.5, 0.5, 0.5},
	"grey":   {0.5, 0.5, 0.5},
	"silver": {0.753, 0.753, 0.753},
	"gold":   {1, 0.843, 0},
	"pink":   {1, 0.753, 0.796},
	"cyan":   {0, 1, 1},
}

func (b *binder) colorNameToRgb(call goja.FunctionCall) goja.Value {
	name, _ := call.Argument(0).Export().(string)
	c, ok := namedColors[strings.ToLower(name)]
	if !ok {
		return goja.Undefined()
	}
	return b.vm.NewArray(c[0], c[1], c[2])
}
