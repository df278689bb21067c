package sandbox

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/dop251/goja"

	"cad-copilot/backend/internal/models"
)

// EvalError is a structured evaluation failure.
type EvalError struct {
	Descriptor models.ErrorDescriptor
}

func (e *EvalError) Error() string { return e.Descriptor.String() }

type timeoutError struct{ msg string }

func (e timeoutError) Error() string { return e.msg }

var (
	syntaxPosRe = regexp.MustCompile(`Line (\d+):(\d+)\s*(.*)`)
	tracePosRe  = regexp.MustCompile(regexp.QuoteMeta(harnessName) + `:(\d+):(\d+)`)
)

// Classify turns any error raised while evaluating user code into a
// descriptor with positions relative to the user's code.
func Classify(err error) models.ErrorDescriptor {
	var evalErr *EvalError
	if errors.As(err, &evalErr) {
		return evalErr.Descriptor
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if te, ok := interrupted.Value().(timeoutError); ok {
			return models.ErrorDescriptor{Kind: "TimeoutError", Message: te.msg}
		}
		return models.ErrorDescriptor{Kind: "AbortError", Message: "evaluation was cancelled"}
	}

	var ex *goja.Exception
	if errors.As(err, &ex) {
		return classifyException(ex)
	}

	var syntax *goja.CompilerSyntaxError
	if errors.As(err, &syntax) {
		return classifySyntax(syntax.Error())
	}

	d := models.ErrorDescriptor{Kind: "Error", Message: err.Error()}
	d.Line, d.Column = positionFromTrace(err.Error())
	return d
}

func classifyException(ex *goja.Exception) models.ErrorDescriptor {
	d := models.ErrorDescriptor{Kind: "Error"}

	if obj, ok := ex.Value().(*goja.Object); ok {
		if name := obj.Get("name"); name != nil && !goja.IsUndefined(name) {
			d.Kind = name.String()
		}
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			d.Message = msg.String()
		}
	} else if v := ex.Value(); v != nil {
		// a thrown primitive, e.g. `throw "bad size"`
		d.Message = v.String()
	}

	for _, frame := range ex.Stack() {
		pos := frame.Position()
		if pos.Filename != harnessName || pos.Line <= 0 {
			continue
		}
		if line := pos.Line - harnessOffset; line > 0 {
			d.Line, d.Column = line, pos.Column
		}
		break
	}
	if d.Line == 0 {
		d.Line, d.Column = positionFromTrace(ex.String())
	}
	return d
}

func classifySyntax(text string) models.ErrorDescriptor {
	d := models.ErrorDescriptor{Kind: "SyntaxError", Message: strings.TrimPrefix(text, "SyntaxError: ")}
	if m := syntaxPosRe.FindStringSubmatch(text); m != nil {
		line, _ := strconv.Atoi(m[1])
		col, _ := strconv.Atoi(m[2])
		if line -= harnessOffset; line > 0 {
			d.Line, d.Column = line, col
		}
		if m[3] != "" {
			d.Message = m[3]
		}
		return d
	}
	d.Line, d.Column = positionFromTrace(text)
	if i := strings.LastIndex(d.Message, " at "+harnessName); i >= 0 {
		d.Message = d.Message[:i]
	}
	return d
}

// positionFromTrace reads the first harness position out of a stack text.
func positionFromTrace(text string) (line, col int) {
	m := tracePosRe.FindStringSubmatch(text)
	if m == nil {
		return 0, 0
	}
	line, _ = strconv.Atoi(m[1])
	col, _ = strconv.Atoi(m[2])
	if line -= harnessOffset; line <= 0 {
		return 0, 0
	}
	return line, col
}
