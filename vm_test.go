package koflvm_test

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ozanh/koflvm/asm"

	. "github.com/ozanh/koflvm"
)

func TestVMScenarios(t *testing.T) {
	// CONST 0, CONST 1, SUM, RET
	c := NewChunk()
	c.WriteConst(Number(3))
	c.WriteConst(Number(4))
	c.Write(OpConst, 1)
	c.Write(0, 1)
	c.Write(OpConst, 1)
	c.Write(1, 1)
	c.Write(OpSum, 1)
	c.Write(OpRet, 1)
	expectEval(t, c, Number(7))

	// CONST 0, CONST 1, CONCAT, RET
	c = NewChunk()
	foo, bar := NewString("foo"), NewString("bar")
	c.WriteConst(foo)
	c.WriteConst(bar)
	c.Write(OpConst, 1)
	c.Write(0, 1)
	c.Write(OpConst, 1)
	c.Write(1, 1)
	c.Write(OpConcat, 1)
	c.Write(OpRet, 1)
	expectEval(t, c, NewString("foobar"))
	require.Equal(t, "foo", ToDisplayString(c.Consts()[0]))
	require.Equal(t, "bar", ToDisplayString(c.Consts()[1]))
	require.Same(t, foo, c.Consts()[0])

	// ACCESS_GLOBAL of a name never stored
	c = NewChunk()
	c.WriteConst(NewString("missing"))
	c.Write(OpConst, 1)
	c.Write(0, 1)
	c.Write(OpAccessGlobal, 2)
	c.Write(OpRet, 3)
	expectEvalErrIs(t, c, ErrMissingGlobal)

	// RET on an empty stack
	c = NewChunk()
	c.Write(OpRet, 1)
	expectEvalErrIs(t, c, ErrStackUnderflow)
}

func TestVMArithmetic(t *testing.T) {
	expectRun(t, "const 3; const 4; sum; ret", Number(7))
	expectRun(t, "const 10; const 4; sub; ret", Number(6))
	expectRun(t, "const 2.5; const 4; mult; ret", Number(10))
	expectRun(t, "const 1; const 4; div; ret", Number(0.25))
	expectRun(t, "const 2; negate; ret", Number(-2))
	expectRun(t, "const 1; const 2; const 3; mult; sub; ret", Number(-5))
	expectRun(t, "const 1; const 0; div; ret", Number(math.Inf(1)))
	expectRun(t, "const -1; const 0; div; ret", Number(math.Inf(-1)))

	v := run(t, "const 0; const 0; div; ret")
	require.True(t, math.IsNaN(float64(v.(Number))))

	expectRunErrIs(t, "const 1; sum; ret", ErrStackUnderflow)
	expectRunErrIs(t, "negate; ret", ErrStackUnderflow)
}

func TestVMBool(t *testing.T) {
	expectRun(t, "true; ret", True)
	expectRun(t, "false; ret", False)
	expectRun(t, "true; not; ret", False)
	expectRun(t, "false; not; not; ret", False)
	expectRun(t, "const true; not; ret", False)
	expectRun(t, "true; false; pop; ret", True)
	expectRunErrIs(t, "pop; ret", ErrStackUnderflow)
}

func TestVMTypeMismatch(t *testing.T) {
	testCases := []struct {
		src string
		msg string
	}{
		{"true; const 1; sum; ret", "invalid operand for 'SUM': expected number, found bool"},
		{`const 1; const "a"; div; ret`, "invalid operand for 'DIV': expected number, found string"},
		{`const "a"; negate; ret`, "invalid operand for 'NEGATE': expected number, found string"},
		{"const 0; not; ret", "invalid operand for 'NOT': expected bool, found number"},
		{`const "a"; const 1; concat; ret`, "invalid operand for 'CONCAT': expected string, found number"},
		{`true; const "a"; concat; ret`, "invalid operand for 'CONCAT': expected string, found bool"},
		{"const 1; const 2; store_global; true; ret", "invalid operand for 'STORE_GLOBAL': expected string, found number"},
		{"false; access_global; ret", "invalid operand for 'ACCESS_GLOBAL': expected string, found bool"},
	}
	for _, tC := range testCases {
		t.Run(tC.src, func(t *testing.T) {
			err := expectRunErrIs(t, tC.src, ErrTypeMismatch)
			require.Contains(t, err.Error(), tC.msg)
		})
	}
}

func TestVMGlobals(t *testing.T) {
	vm := newVM(t, DefaultOptions)

	expectVMRun(t, vm, `const "a"; const 1; store_global; const "a"; access_global; ret`,
		Number(1))
	// globals survive between evaluations
	expectVMRun(t, vm, `const "a"; access_global; ret`, Number(1))
	expectVMRun(t, vm, `const "a"; const "x"; const "y"; concat; store_global; true; ret`,
		True)
	expectVMRun(t, vm, `const "a"; access_global; ret`, NewString("xy"))
	expectVMRun(t, vm, `const "b"; false; store_global; const "b"; access_global; ret`,
		False)

	v, ok := vm.Global("a")
	require.True(t, ok)
	require.Equal(t, "xy", ToDisplayString(v))
	_, ok = vm.Global("c")
	require.False(t, ok)

	names := map[string]string{}
	vm.RangeGlobals(func(name string, value Value) bool {
		names[name] = ToDisplayString(value)
		return true
	})
	require.Equal(t, map[string]string{"a": "xy", "b": "0"}, names)

	// value is popped before name
	_, err := vm.Eval(mustAssemble(t, `const 1; const "a"; store_global; true; ret`))
	require.True(t, errors.Is(err, ErrTypeMismatch), "%v", err)
	_, err = vm.Eval(mustAssemble(t, `const "z"; access_global; ret`))
	require.True(t, errors.Is(err, ErrMissingGlobal), "%v", err)
	require.Contains(t, err.Error(), `"z"`)
}

func TestVMStackOverflow(t *testing.T) {
	vm := newVM(t, Options{StackSize: 2})
	expectVMRun(t, vm, "const 1; const 2; sum; ret", Number(3))

	_, err := vm.Eval(mustAssemble(t, "true; true; true; ret"))
	require.True(t, errors.Is(err, ErrStackOverflow), "%v", err)

	// stack is reset for each evaluation
	expectVMRun(t, vm, "true; true; pop; ret", True)
}

func TestVMDecodeErrors(t *testing.T) {
	expectRunErrIs(t, "byte 200", ErrDecode)
	expectRunErrIs(t, "true; byte 1", ErrDecode)
	expectRunErrIs(t, "true", ErrDecode)
	expectRunErrIs(t, "", ErrDecode)

	c := NewChunk()
	c.Write(OpConst, 1)
	c.Write(5, 1)
	c.Write(OpRet, 1)
	expectEvalErrIs(t, c, ErrDecode)

	vm := newVM(t, DefaultOptions)
	_, err := vm.Eval(nil)
	require.True(t, errors.Is(err, ErrDecode))

	// end of code is not reported as an instruction
	_, err = vm.Eval(mustAssemble(t, "true\ntrue"))
	var rerr *RuntimeError
	require.True(t, errors.As(err, &rerr))
	require.Equal(t, OpNone, rerr.Opcode)
	require.Equal(t, 2, rerr.IP)
	require.True(t, strings.HasSuffix(fmt.Sprintf("%+v", err), "\n\tat 0002 (line 0)"),
		"%+v", err)
	require.NotContains(t, fmt.Sprintf("%+v", err), "RET")
}

func TestVMRuntimeError(t *testing.T) {
	vm := newVM(t, DefaultOptions)
	_, err := vm.Eval(mustAssemble(t, "true\nconst 1\nsum\nret"))
	require.Error(t, err)

	var rerr *RuntimeError
	require.True(t, errors.As(err, &rerr))
	require.Equal(t, 3, rerr.IP)
	require.Equal(t, OpSum, rerr.Opcode)
	require.Equal(t, 3, rerr.Line)
	require.True(t, errors.Is(err, ErrTypeMismatch))
	require.True(t, strings.HasSuffix(fmt.Sprintf("%+v", err), "\n\tat 0003 SUM (line 3)"))
}

func TestVMTrace(t *testing.T) {
	var buf bytes.Buffer
	vm := newVM(t, Options{Trace: &buf})
	expectVMRun(t, vm, `const "a"; const 2; pop; ret`, NewString("a"))
	require.Equal(t, `0000    1 CONST          []
0002    1 CONST          ["a"]
0004    1 POP            ["a", 2.000000]
0005    1 RET            ["a"]
`, buf.String())

	buf.Reset()
	vm.SetTrace(nil)
	expectVMRun(t, vm, "true; ret", True)
	require.Empty(t, buf.String())
}

type abortWriter struct {
	vm     *VM
	writes int
}

func (w *abortWriter) Write(p []byte) (int, error) {
	w.writes++
	w.vm.Abort()
	return len(p), nil
}

func TestVMAbort(t *testing.T) {
	vm := newVM(t, DefaultOptions)
	w := &abortWriter{vm: vm}
	vm.SetTrace(w)

	_, err := vm.Eval(mustAssemble(t, "true; pop; true; ret"))
	require.True(t, errors.Is(err, ErrVMAborted), "%v", err)
	require.Equal(t, 1, w.writes)
	var rerr *RuntimeError
	require.True(t, errors.As(err, &rerr))
	require.Equal(t, OpNone, rerr.Opcode)

	// abort flag is reset by Eval
	vm.SetTrace(nil)
	expectVMRun(t, vm, "true; ret", True)
}

type evalWriter struct {
	vm  *VM
	err error
}

func (w *evalWriter) Write(p []byte) (int, error) {
	if w.err == nil {
		_, w.err = w.vm.Eval(NewChunk())
	}
	return len(p), nil
}

func TestVMReentrantEval(t *testing.T) {
	vm := newVM(t, DefaultOptions)
	w := &evalWriter{vm: vm}
	vm.SetTrace(w)

	expectVMRun(t, vm, "true; ret", True)
	require.True(t, errors.Is(w.err, ErrVMRunning), "%v", w.err)
	require.Equal(t, "VMRunningError", w.err.Error())
}

func TestVMInterning(t *testing.T) {
	vm := newVM(t, DefaultOptions)
	c := mustAssemble(t, `const "a"; const "b"; concat; ret`)

	first, err := vm.Eval(c)
	require.NoError(t, err)
	require.Equal(t, 1, vm.NumObjects())
	stats := vm.HeapStats()
	require.Equal(t, 3, stats.Used)

	// duplicate result is freed and the interned string is returned
	second, err := vm.Eval(c)
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, 1, vm.NumObjects())
	require.Equal(t, stats, vm.HeapStats())

	s, err := vm.MakeString([]byte("ab"))
	require.NoError(t, err)
	require.Same(t, first, s)

	s, err = vm.MakeString([]byte("cd"))
	require.NoError(t, err)
	require.False(t, s.IsStatic())
	require.Equal(t, 2, vm.NumObjects())
}

func TestVMAllocationFailure(t *testing.T) {
	vm := newVM(t, Options{Memory: 64})

	long := strings.Repeat("x", 30)
	_, err := vm.Eval(mustAssemble(t,
		fmt.Sprintf(`const "%s"; const "%s"; concat; ret`, long, long)))
	require.True(t, errors.Is(err, ErrAllocation), "%v", err)
	require.Equal(t, 0, vm.NumObjects())

	// VM is usable after an allocation failure
	expectVMRun(t, vm, `const "a"; const "b"; concat; ret`, NewString("ab"))
	require.Equal(t, 1, vm.NumObjects())
}

func TestVMDispose(t *testing.T) {
	vm, err := NewVM(DefaultOptions)
	require.NoError(t, err)

	c := mustAssemble(t, `const "k"; const "a"; const "b"; concat; store_global; const "s"; ret`)
	ret, err := vm.Eval(c)
	require.NoError(t, err)
	require.Equal(t, "s", ToDisplayString(ret))

	v, ok := vm.Global("k")
	require.True(t, ok)
	heapStr := v.(*String)
	require.Equal(t, "ab", ToDisplayString(heapStr))

	vm.Dispose()
	vm.Dispose()

	_, err = vm.Eval(c)
	require.True(t, errors.Is(err, ErrVMDisposed))
	_, err = vm.MakeString([]byte("x"))
	require.True(t, errors.Is(err, ErrVMDisposed))
	_, ok = vm.Global("k")
	require.False(t, ok)
	require.Equal(t, 0, vm.NumObjects())
	require.Equal(t, HeapStats{}, vm.HeapStats())

	// objects are released, the chunk is not touched
	require.Nil(t, heapStr.Bytes())
	require.Equal(t, "s", ToDisplayString(ret))
	require.Equal(t, "k", ToDisplayString(c.Consts()[0]))
	require.NoError(t, c.Validate())
}

func TestNewVM(t *testing.T) {
	_, err := NewVM(Options{Memory: 8})
	require.True(t, errors.Is(err, ErrAllocation))

	vm := newVM(t, Options{})
	require.Equal(t, DefaultOptions.Memory, vm.HeapStats().Capacity)
}

func newVM(t *testing.T, opts Options) *VM {
	t.Helper()
	vm, err := NewVM(opts)
	require.NoError(t, err)
	t.Cleanup(vm.Dispose)
	return vm
}

func mustAssemble(t *testing.T, src string) *Chunk {
	t.Helper()
	c, err := asm.Assemble(src)
	require.NoError(t, err)
	return c
}

func run(t *testing.T, src string) Value {
	t.Helper()
	vm := newVM(t, DefaultOptions)
	v, err := vm.Eval(mustAssemble(t, src))
	require.NoError(t, err)
	return v
}

func expectRun(t *testing.T, src string, expected Value) {
	t.Helper()
	expectEval(t, mustAssemble(t, src), expected)
}

func expectVMRun(t *testing.T, vm *VM, src string, expected Value) {
	t.Helper()
	v, err := vm.Eval(mustAssemble(t, src))
	require.NoError(t, err, src)
	require.True(t, expected.Equal(v), "expected %s, got %s", expected, v)
}

func expectEval(t *testing.T, c *Chunk, expected Value) {
	t.Helper()
	vm := newVM(t, DefaultOptions)
	v, err := vm.Eval(c)
	require.NoError(t, err)
	require.NotNil(t, v)
	require.Equal(t, expected.TypeName(), v.TypeName())
	require.True(t, expected.Equal(v), "expected %s, got %s", expected, v)
}

func expectRunErrIs(t *testing.T, src string, expected error) error {
	t.Helper()
	return expectEvalErrIs(t, mustAssemble(t, src), expected)
}

func expectEvalErrIs(t *testing.T, c *Chunk, expected error) error {
	t.Helper()
	vm := newVM(t, DefaultOptions)
	_, err := vm.Eval(c)
	require.Error(t, err)
	require.True(t, errors.Is(err, expected),
		"expected error %v, got %v", expected, err)

	var rerr *RuntimeError
	require.True(t, errors.As(err, &rerr))
	return err
}
