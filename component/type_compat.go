package component

import "fmt"

// TypeMismatch describes why two Component Model value types are not
// subtype-compatible. Path pinpoints the deepest point of disagreement,
// e.g. "record.fields[name].variant.cases[err]".
type TypeMismatch struct {
	Path     string
	Expected string
	Actual   string
}

func (m *TypeMismatch) Error() string {
	return fmt.Sprintf("type mismatch at %s: expected %s, got %s", m.Path, m.Expected, m.Actual)
}

// TypeContext supplies the type index space a ValType's indexes (TypeIndexRef,
// typeAlias) are interpreted against. Each Component Definition owns exactly
// one index space; crossing definitions (e.g. a nested component's exports)
// requires passing the nested definition's own TypeContext, never reusing
// the parent's.
type TypeContext struct {
	Types []Type
}

// NewTypeContext builds a TypeContext from a component's cumulative type
// index space.
func NewTypeContext(types []Type) *TypeContext {
	return &TypeContext{Types: types}
}

// deref follows TypeIndexRef chains within this context until it reaches a
// non-index ValType, or gives up if the index is out of range or the target
// type definition isn't itself a value type (e.g. it names a func/instance
// type, which is a DefinitionInvalid condition the caller should have
// already rejected at decode time).
func (c *TypeContext) deref(vt ValType) ValType {
	if c == nil {
		return vt
	}
	seen := map[uint32]bool{}
	for {
		ref, ok := vt.(TypeIndexRef)
		if !ok {
			return vt
		}
		if seen[ref.Index] {
			return vt // cyclic type index; let caller's mismatch surface naturally
		}
		seen[ref.Index] = true
		if int(ref.Index) >= len(c.Types) {
			return vt
		}
		next, ok := c.Types[ref.Index].(ValType)
		if !ok {
			return vt
		}
		vt = next
	}
}

func describe(vt ValType) string {
	switch t := vt.(type) {
	case PrimValType:
		return primTypeName(t.Type)
	case RecordType:
		return "record"
	case VariantType:
		return "variant"
	case ListType:
		return "list"
	case TupleType:
		return "tuple"
	case FlagsType:
		return "flags"
	case EnumType:
		return "enum"
	case OptionType:
		return "option"
	case ResultType:
		return "result"
	case OwnType:
		return fmt.Sprintf("own<%d>", t.TypeIndex)
	case BorrowType:
		return fmt.Sprintf("borrow<%d>", t.TypeIndex)
	case TypeIndexRef:
		return fmt.Sprintf("type#%d", t.Index)
	case typeAlias:
		return fmt.Sprintf("alias(%s)", t.ExportName)
	default:
		return fmt.Sprintf("%T", vt)
	}
}

func primTypeName(p PrimType) string {
	switch p {
	case PrimBool:
		return "bool"
	case PrimS8:
		return "s8"
	case PrimU8:
		return "u8"
	case PrimS16:
		return "s16"
	case PrimU16:
		return "u16"
	case PrimS32:
		return "s32"
	case PrimU32:
		return "u32"
	case PrimS64:
		return "s64"
	case PrimU64:
		return "u64"
	case PrimF32:
		return "f32"
	case PrimF64:
		return "f64"
	case PrimChar:
		return "char"
	case PrimString:
		return "string"
	default:
		return fmt.Sprintf("prim(%#x)", byte(p))
	}
}

// ValTypeCompatible implements the §4.1 value-type subtyping rules:
// primitives by identity, records by same field names in the same order
// with compatible field types, variants by case-name-set equality with
// per-case payload compatibility, lists/options structural, own/borrow by
// resource-type identity within the defining component's context.
//
// expectedCtx/actualCtx resolve type indexes appearing in expected/actual
// respectively; pass the TypeContext of the component that declared each
// side (they may be the same component, or may differ when comparing an
// import against an export of a sibling instance).
func ValTypeCompatible(expected, actual ValType, expectedCtx, actualCtx *TypeContext, path string) *TypeMismatch {
	expected = expectedCtx.deref(expected)
	actual = actualCtx.deref(actual)

	switch e := expected.(type) {
	case PrimValType:
		a, ok := actual.(PrimValType)
		if !ok || a.Type != e.Type {
			return &TypeMismatch{Path: path, Expected: describe(expected), Actual: describe(actual)}
		}
		return nil

	case RecordType:
		a, ok := actual.(RecordType)
		if !ok || len(a.Fields) != len(e.Fields) {
			return &TypeMismatch{Path: path, Expected: describe(expected), Actual: describe(actual)}
		}
		for i, ef := range e.Fields {
			af := a.Fields[i]
			if af.Name != ef.Name {
				return &TypeMismatch{
					Path:     fmt.Sprintf("%s.fields[%d]", path, i),
					Expected: ef.Name,
					Actual:   af.Name,
				}
			}
			if mm := ValTypeCompatible(ef.Type, af.Type, expectedCtx, actualCtx, fmt.Sprintf("%s.fields[%s]", path, ef.Name)); mm != nil {
				return mm
			}
		}
		return nil

	case VariantType:
		a, ok := actual.(VariantType)
		if !ok {
			return &TypeMismatch{Path: path, Expected: describe(expected), Actual: describe(actual)}
		}
		actualByName := make(map[string]CaseType, len(a.Cases))
		for _, c := range a.Cases {
			actualByName[c.Name] = c
		}
		if len(a.Cases) != len(e.Cases) {
			return &TypeMismatch{
				Path:     path,
				Expected: fmt.Sprintf("variant with %d cases", len(e.Cases)),
				Actual:   fmt.Sprintf("variant with %d cases", len(a.Cases)),
			}
		}
		for _, ec := range e.Cases {
			ac, ok := actualByName[ec.Name]
			if !ok {
				return &TypeMismatch{Path: path, Expected: fmt.Sprintf("case %q", ec.Name), Actual: "missing"}
			}
			if (ec.Type == nil) != (ac.Type == nil) {
				return &TypeMismatch{Path: fmt.Sprintf("%s.cases[%s]", path, ec.Name), Expected: "payload presence mismatch"}
			}
			if ec.Type != nil {
				if mm := ValTypeCompatible(*ec.Type, *ac.Type, expectedCtx, actualCtx, fmt.Sprintf("%s.cases[%s]", path, ec.Name)); mm != nil {
					return mm
				}
			}
		}
		return nil

	case ListType:
		a, ok := actual.(ListType)
		if !ok {
			return &TypeMismatch{Path: path, Expected: describe(expected), Actual: describe(actual)}
		}
		return ValTypeCompatible(e.ElemType, a.ElemType, expectedCtx, actualCtx, path+".elem")

	case TupleType:
		a, ok := actual.(TupleType)
		if !ok || len(a.Types) != len(e.Types) {
			return &TypeMismatch{Path: path, Expected: describe(expected), Actual: describe(actual)}
		}
		for i := range e.Types {
			if mm := ValTypeCompatible(e.Types[i], a.Types[i], expectedCtx, actualCtx, fmt.Sprintf("%s.tuple[%d]", path, i)); mm != nil {
				return mm
			}
		}
		return nil

	case FlagsType:
		a, ok := actual.(FlagsType)
		if !ok || len(a.Names) != len(e.Names) {
			return &TypeMismatch{Path: path, Expected: describe(expected), Actual: describe(actual)}
		}
		for i := range e.Names {
			if a.Names[i] != e.Names[i] {
				return &TypeMismatch{Path: path, Expected: e.Names[i], Actual: a.Names[i]}
			}
		}
		return nil

	case EnumType:
		a, ok := actual.(EnumType)
		if !ok || len(a.Cases) != len(e.Cases) {
			return &TypeMismatch{Path: path, Expected: describe(expected), Actual: describe(actual)}
		}
		for i := range e.Cases {
			if a.Cases[i] != e.Cases[i] {
				return &TypeMismatch{Path: path, Expected: e.Cases[i], Actual: a.Cases[i]}
			}
		}
		return nil

	case OptionType:
		a, ok := actual.(OptionType)
		if !ok {
			return &TypeMismatch{Path: path, Expected: describe(expected), Actual: describe(actual)}
		}
		return ValTypeCompatible(e.Type, a.Type, expectedCtx, actualCtx, path+".some")

	case ResultType:
		a, ok := actual.(ResultType)
		if !ok {
			return &TypeMismatch{Path: path, Expected: describe(expected), Actual: describe(actual)}
		}
		if (e.OK == nil) != (a.OK == nil) || (e.Err == nil) != (a.Err == nil) {
			return &TypeMismatch{Path: path, Expected: "ok/err presence mismatch"}
		}
		if e.OK != nil {
			if mm := ValTypeCompatible(*e.OK, *a.OK, expectedCtx, actualCtx, path+".ok"); mm != nil {
				return mm
			}
		}
		if e.Err != nil {
			if mm := ValTypeCompatible(*e.Err, *a.Err, expectedCtx, actualCtx, path+".err"); mm != nil {
				return mm
			}
		}
		return nil

	case OwnType:
		a, ok := actual.(OwnType)
		if !ok || a.TypeIndex != e.TypeIndex {
			return &TypeMismatch{Path: path, Expected: describe(expected), Actual: describe(actual)}
		}
		return nil

	case BorrowType:
		a, ok := actual.(BorrowType)
		if !ok || a.TypeIndex != e.TypeIndex {
			return &TypeMismatch{Path: path, Expected: describe(expected), Actual: describe(actual)}
		}
		return nil

	default:
		return &TypeMismatch{Path: path, Expected: describe(expected), Actual: describe(actual)}
	}
}

// FuncTypeCompatible checks Component function type compatibility: same
// param arity (simplified to structural equivalence for the baseline, per
// spec.md §4.1), results covariant (actual must be compatible with
// expected, i.e. the callee may return something at least as specific).
func FuncTypeCompatible(expected, actual FuncType, expectedCtx, actualCtx *TypeContext) *TypeMismatch {
	if len(expected.Params) != len(actual.Params) {
		return &TypeMismatch{
			Path:     "func.params",
			Expected: fmt.Sprintf("%d params", len(expected.Params)),
			Actual:   fmt.Sprintf("%d params", len(actual.Params)),
		}
	}
	for i := range expected.Params {
		ep, ap := expected.Params[i], actual.Params[i]
		if ep.Name != ap.Name {
			return &TypeMismatch{Path: fmt.Sprintf("func.params[%d]", i), Expected: ep.Name, Actual: ap.Name}
		}
		if mm := ValTypeCompatible(ep.Type, ap.Type, expectedCtx, actualCtx, fmt.Sprintf("func.params[%s]", ep.Name)); mm != nil {
			return mm
		}
	}
	if (expected.Result == nil) != (actual.Result == nil) {
		return &TypeMismatch{Path: "func.result", Expected: "result presence mismatch"}
	}
	if expected.Result != nil {
		if mm := ValTypeCompatible(*expected.Result, *actual.Result, expectedCtx, actualCtx, "func.result"); mm != nil {
			return mm
		}
	}
	return nil
}

// FuncTypeInInstanceType finds the declared FuncType of a named function
// within an instance type's declarations, along with the TypeContext needed
// to resolve any type indexes inside it. outerTypes resolves Outer-style
// type aliases nested inside the instance type (rare - most instance types
// declare their function types inline).
//
// This mirrors CanonRegistry.findFuncInInstanceType's index-space
// construction exactly, but is exported and doesn't require an
// already-built CanonRegistry, so the Import Matcher and nested-component
// instantiation can run FuncTypeCompatible against a declared interface
// import without going through the canonical-options machinery.
func FuncTypeInInstanceType(instType *InstanceType, exportName string, outerTypes []Type) (*FuncType, *TypeContext) {
	internalTypes := make(map[uint32]Type)
	typeIdx := uint32(0)

	for _, decl := range instType.Decls {
		switch d := decl.DeclType.(type) {
		case InstanceDeclType:
			internalTypes[typeIdx] = d.Type
			typeIdx++

		case InstanceDeclAlias:
			if d.Alias.Kind == SortType {
				parsed, err := parseSingleAlias(d.Alias.Kind, d.Alias.Data)
				if err == nil && parsed.TargetKind == 0x02 && int(parsed.OuterIndex) < len(outerTypes) {
					internalTypes[typeIdx] = outerTypes[parsed.OuterIndex]
				} else {
					internalTypes[typeIdx] = PrimValType{Type: PrimU32}
				}
				typeIdx++
			}

		case InstanceDeclExport:
			if d.Export.externDesc.Kind == 0x03 {
				boundIdx := d.Export.externDesc.TypeIndex
				if boundType, found := internalTypes[boundIdx]; found {
					internalTypes[typeIdx] = boundType
				} else {
					internalTypes[typeIdx] = PrimValType{Type: PrimU32}
				}
				typeIdx++
			}
		}
	}

	for _, decl := range instType.Decls {
		d, ok := decl.DeclType.(InstanceDeclExport)
		if !ok || decl.Name != exportName || d.Export.externDesc.Kind != 0x01 {
			continue
		}
		idx := d.Export.externDesc.TypeIndex
		t, ok := internalTypes[idx]
		if !ok || t == nil {
			continue
		}
		ft, ok := t.(*FuncType)
		if !ok {
			continue
		}
		return ft, NewTypeContext(internalTypesToSlice(internalTypes))
	}

	return nil, nil
}

// internalTypesToSlice flattens an instance type's internal type-index
// space (built incrementally as a map during decode) into the dense slice
// TypeContext expects. Keys are contiguous from 0 by construction.
func internalTypesToSlice(types map[uint32]Type) []Type {
	max := uint32(0)
	for k := range types {
		if k+1 > max {
			max = k + 1
		}
	}
	slice := make([]Type, max)
	for k, v := range types {
		slice[k] = v
	}
	return slice
}
