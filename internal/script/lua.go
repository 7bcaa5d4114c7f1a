package script

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/Shopify/go-lua"

	"github.com/kode4food/marionette/pkg/api"
	"github.com/kode4food/marionette/pkg/util"
)

type (
	// LuaEnv evaluates condition expressions and user functions in a
	// sandboxed Lua state. Compiled chunks are cached by source, and states
	// are pooled between calls
	LuaEnv struct {
		cache     *chunkCache
		statePool chan *lua.State
	}

	// Compiled is a Lua chunk compiled to bytecode. Variables are bound at
	// call time through the chunk's environment table
	Compiled struct {
		bytecode []byte
	}
)

const (
	DefaultCacheSize = 1024

	luaStatePoolSize    = 10
	luaGlobalTableIndex = -2
	luaArrayTableIndex  = -3
	luaMapTableIndex    = -3
	luaEnvUpValue       = 1
	luaGlobalTableName  = "_G"
	luaIndexField       = "__index"
	luaReturnKeyword    = "return"
)

var (
	ErrLuaLoad      = errors.New("lua load error")
	ErrLuaExecution = errors.New("lua execution error")
	ErrEmptyScript  = errors.New("script empty")
)

var luaExclude = [...]string{
	"io", "os", "debug", "package", "require", "dofile", "loadfile", "load",
}

var luaKeywords = util.SetOf(
	"and", "break", "do", "else", "elseif", "end", "false", "for",
	"function", "goto", "if", "in", "local", "nil", "not", "or", "repeat",
	"return", "then", "true", "until", "while",
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Operators from the editor's JavaScript-flavored expressions mapped to Lua
var exprOperators = strings.NewReplacer(
	"===", "==",
	"!==", "~=",
	"!=", "~=",
	"&&", " and ",
	"||", " or ",
)

// NewLuaEnv creates a Lua environment with a compiled-chunk cache of the
// given size
func NewLuaEnv(cacheSize int) *LuaEnv {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	return &LuaEnv{
		cache:     newChunkCache(cacheSize),
		statePool: make(chan *lua.State, luaStatePoolSize),
	}
}

// Evaluate runs a boolean expression with every entry of env exposed as a
// variable. The expression is truthy under Lua rules: only nil and false fail
func (e *LuaEnv) Evaluate(expr string, env api.Vars) (bool, error) {
	src, err := ExpressionSource(expr)
	if err != nil {
		return false, err
	}
	proc, err := e.Compile(src)
	if err != nil {
		return false, err
	}
	result := false
	err = e.withCompiledResult(proc, env, func(L *lua.State) {
		result = L.ToBoolean(-1)
		L.Pop(1)
	})
	return result, err
}

// Call runs a function body with every entry of env exposed as a variable and
// returns its converted result. Tables become maps or slices
func (e *LuaEnv) Call(code string, env api.Vars) (any, error) {
	if strings.TrimSpace(code) == "" {
		return nil, ErrEmptyScript
	}
	proc, err := e.Compile(code)
	if err != nil {
		return nil, err
	}
	var result any
	err = e.withCompiledResult(proc, env, func(L *lua.State) {
		result = luaToGo(L, -1)
		L.Pop(1)
	})
	return result, err
}

// Validate checks that a function body compiles
func (e *LuaEnv) Validate(code string) error {
	_, err := e.Compile(code)
	return err
}

// Compile compiles src, reusing a cached chunk for identical sources
func (e *LuaEnv) Compile(src string) (*Compiled, error) {
	return e.cache.get(src, e.compile)
}

// ExpressionSource turns a bare expression into a Lua chunk returning it.
// Sources that already start with a return statement are kept as-is
func ExpressionSource(expr string) (string, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return "", ErrEmptyScript
	}
	if strings.HasPrefix(trimmed, luaReturnKeyword+" ") ||
		strings.HasPrefix(trimmed, luaReturnKeyword+"(") {
		return trimmed, nil
	}
	return luaReturnKeyword + " (" + exprOperators.Replace(trimmed) + ")", nil
}

// VarNames returns the sorted keys of env that are valid Lua identifiers.
// Other keys are left unbound
func VarNames(env api.Vars) []string {
	res := make([]string, 0, len(env))
	for _, name := range slices.Sorted(maps.Keys(env)) {
		if identPattern.MatchString(name) && !luaKeywords.Contains(name) {
			res = append(res, name)
		}
	}
	return res
}

func (e *LuaEnv) compile(src string) (*Compiled, error) {
	L := lua.NewState()

	setupSandbox(L)

	if err := lua.LoadString(L, src); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}

	var buf bytes.Buffer
	if err := L.Dump(&buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}

	return &Compiled{bytecode: buf.Bytes()}, nil
}

func setupSandbox(L *lua.State) {
	lua.OpenLibraries(L)
	L.Global(luaGlobalTableName)
	for _, name := range luaExclude {
		L.PushNil()
		L.SetField(luaGlobalTableIndex, name)
	}
	L.Pop(1)
}

func (e *LuaEnv) withCompiledResult(
	proc *Compiled, env api.Vars, onResult func(*lua.State),
) error {
	L := e.getState()
	defer e.returnState(L)

	setupSandbox(L)
	if err := L.Load(bytes.NewReader(proc.bytecode), "chunk", "b"); err != nil {
		return fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}

	pushEnvTable(L, env)
	if _, ok := lua.SetUpValue(L, -2, luaEnvUpValue); !ok {
		L.Pop(1)
	}

	if err := L.ProtectedCall(0, 1, 0); err != nil {
		return fmt.Errorf("%w: %w", ErrLuaExecution, err)
	}

	onResult(L)
	return nil
}

// pushEnvTable pushes a fresh table holding env's variables that falls back
// to the sandboxed globals. Assignments made by a chunk stay in this table
func pushEnvTable(L *lua.State, env api.Vars) {
	names := VarNames(env)
	L.CreateTable(0, len(names))
	for _, name := range names {
		goToLua(L, env[name])
		L.SetField(-2, name)
	}
	L.CreateTable(0, 1)
	L.PushGlobalTable()
	L.SetField(-2, luaIndexField)
	L.SetMetaTable(-2)
}

func (e *LuaEnv) getState() *lua.State {
	select {
	case L := <-e.statePool:
		return L
	default:
		return lua.NewState()
	}
}

func (e *LuaEnv) returnState(L *lua.State) {
	L.SetTop(0)

	select {
	case e.statePool <- L:
	default:
	}
}

func goToLua(L *lua.State, value any) {
	switch v := value.(type) {
	case string:
		L.PushString(v)
	case bool:
		L.PushBoolean(v)
	case int:
		L.PushInteger(v)
	case int64:
		L.PushInteger(int(v))
	case float64:
		L.PushNumber(v)
	case []any:
		pushLuaArray(L, v)
	case map[string]any:
		pushLuaMap(L, v)
	case api.Vars:
		pushLuaMap(L, v)
	case nil:
		L.PushNil()
	default:
		goToLua(L, normalize(v))
	}
}

// normalize reduces arbitrary Go values to the JSON data model
func normalize(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	var res any
	if err := json.Unmarshal(b, &res); err != nil {
		return string(b)
	}
	return res
}

func pushLuaArray(L *lua.State, arr []any) {
	L.CreateTable(len(arr), 0)
	for i, item := range arr {
		L.PushInteger(i + 1)
		goToLua(L, item)
		L.SetTable(luaArrayTableIndex)
	}
}

func pushLuaMap(L *lua.State, m map[string]any) {
	L.CreateTable(0, len(m))
	for k, val := range m {
		L.PushString(k)
		goToLua(L, val)
		L.SetTable(luaMapTableIndex)
	}
}

func luaNumberToGo(L *lua.State, index int) any {
	num, _ := L.ToNumber(index)
	if num == float64(int(num)) {
		return int(num)
	}
	return num
}

func luaToGo(L *lua.State, index int) any {
	switch L.TypeOf(index) {
	case lua.TypeNil:
		return nil
	case lua.TypeBoolean:
		return L.ToBoolean(index)
	case lua.TypeNumber:
		return luaNumberToGo(L, index)
	case lua.TypeString:
		s, _ := L.ToString(index)
		return s
	case lua.TypeTable:
		return luaTableToAny(L, index)
	default:
		return nil
	}
}

func luaTableToAny(L *lua.State, index int) any {
	isArray := true
	length := 0

	L.PushNil()
	for L.Next(index - 1) {
		if !L.IsNumber(-2) {
			isArray = false
			L.Pop(2)
			break
		}
		length++
		L.Pop(1)
	}

	if isArray && length > 0 {
		return convertLuaArray(L, index, length)
	}

	result := map[string]any{}
	L.PushNil()
	for L.Next(index - 1) {
		var key string
		if L.IsString(-2) && L.TypeOf(-2) == lua.TypeString {
			key, _ = L.ToString(-2)
		} else {
			key = fmt.Sprintf("%v", luaToGo(L, -2))
		}
		result[key] = luaToGo(L, -1)
		L.Pop(1)
	}

	return result
}

func convertLuaArray(L *lua.State, index, length int) []any {
	arr := make([]any, length)
	absIndex := index
	if index < 0 {
		absIndex = L.Top() + index + 1
	}
	for i := 1; i <= length; i++ {
		L.RawGetInt(absIndex, i)
		arr[i-1] = luaToGo(L, -1)
		L.Pop(1)
	}
	return arr
}
