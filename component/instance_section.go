package component

import (
	"bytes"
	"fmt"
)

// ComponentInstanceKind distinguishes the two component-instance section (5)
// instance constructors: instantiating a nested component with explicit
// arguments, or aggregating existing sortidx-referenced items into a new
// named instance (the component-level analogue of CoreInstanceFromExports).
type ComponentInstanceKind byte

const (
	ComponentInstanceInstantiate ComponentInstanceKind = 0x00
	ComponentInstanceFromExports ComponentInstanceKind = 0x01
)

// ComponentInstantiateArg binds a name in a nested component's import
// namespace to a sortidx-referenced item (func, value, type, instance,
// component, or core item) in the enclosing component's index spaces.
type ComponentInstantiateArg struct {
	Name     string
	Sort     byte
	CoreSort byte // meaningful only when Sort == SortCore
	Index    uint32
}

// ComponentInstanceExport names an item exposed by a from-exports instance.
type ComponentInstanceExport struct {
	Name     string
	Sort     byte
	CoreSort byte
	Index    uint32
}

// ParsedInstance holds a parsed component instance from section 5. Unlike
// ParsedCoreInstance's args (plain instance references), instantiate args
// here carry a full sortidx since a nested component's imports can be
// satisfied by any sort, not just other instances.
type ParsedInstance struct {
	Args           []ComponentInstantiateArg
	Exports        []ComponentInstanceExport
	ComponentIndex uint32
	Kind           ComponentInstanceKind
}

// ParseInstanceSection parses section 5 containing vec(instance).
func ParseInstanceSection(data []byte) ([]*ParsedInstance, error) {
	r := bytes.NewReader(data)

	count, err := readLEB128(r)
	if err != nil {
		return nil, fmt.Errorf("read instance count: %w", err)
	}

	instances := make([]*ParsedInstance, count)
	for i := uint32(0); i < count; i++ {
		inst, err := parseSingleInstance(r)
		if err != nil {
			return nil, fmt.Errorf("parse instance %d: %w", i, err)
		}
		instances[i] = inst
	}

	return instances, nil
}

func parseSingleInstance(r *bytes.Reader) (*ParsedInstance, error) {
	kind, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read kind: %w", err)
	}

	inst := &ParsedInstance{Kind: ComponentInstanceKind(kind)}

	switch inst.Kind {
	case ComponentInstanceInstantiate:
		compIdx, err := readLEB128(r)
		if err != nil {
			return nil, fmt.Errorf("read component index: %w", err)
		}
		inst.ComponentIndex = compIdx

		argCount, err := readLEB128(r)
		if err != nil {
			return nil, fmt.Errorf("read arg count: %w", err)
		}

		inst.Args = make([]ComponentInstantiateArg, argCount)
		for i := uint32(0); i < argCount; i++ {
			name, err := readName(r)
			if err != nil {
				return nil, fmt.Errorf("read arg %d name: %w", i, err)
			}
			sort, coreSort, idx, err := readSortIdx(r)
			if err != nil {
				return nil, fmt.Errorf("read arg %d sortidx: %w", i, err)
			}
			inst.Args[i] = ComponentInstantiateArg{
				Name:     name,
				Sort:     sort,
				CoreSort: coreSort,
				Index:    idx,
			}
		}

	case ComponentInstanceFromExports:
		exportCount, err := readLEB128(r)
		if err != nil {
			return nil, fmt.Errorf("read export count: %w", err)
		}

		inst.Exports = make([]ComponentInstanceExport, exportCount)
		for i := uint32(0); i < exportCount; i++ {
			name, err := readName(r)
			if err != nil {
				return nil, fmt.Errorf("read export %d name: %w", i, err)
			}
			sort, coreSort, idx, err := readSortIdx(r)
			if err != nil {
				return nil, fmt.Errorf("read export %d sortidx: %w", i, err)
			}
			inst.Exports[i] = ComponentInstanceExport{
				Name:     name,
				Sort:     sort,
				CoreSort: coreSort,
				Index:    idx,
			}
		}

	default:
		return nil, fmt.Errorf("unknown component instance kind: %d", kind)
	}

	return inst, nil
}

// readSortIdx reads a sortidx: sort:<sort> idx:<u32>, where sort==SortCore
// is itself followed by a core:sort byte identifying which core index space
// (func/table/memory/global/type/module/instance) idx refers into.
func readSortIdx(r *bytes.Reader) (sort, coreSort byte, idx uint32, err error) {
	sort, err = r.ReadByte()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("read sort: %w", err)
	}
	if sort == SortCore {
		coreSort, err = r.ReadByte()
		if err != nil {
			return 0, 0, 0, fmt.Errorf("read core:sort: %w", err)
		}
	}
	idx, err = readLEB128(r)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("read index: %w", err)
	}
	return sort, coreSort, idx, nil
}
