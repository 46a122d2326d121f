package linker

import (
	"fmt"
	"strings"
)

// Kind tags an InstantiationError with one of the taxonomy categories the
// engine's callers pattern-match on. Kind is stable across releases; the
// free-form Phase/Reason strings are not.
type Kind string

const (
	KindDefinitionInvalid      Kind = "DefinitionInvalid"
	KindImportMissing          Kind = "ImportMissing"
	KindImportKindMismatch     Kind = "ImportKindMismatch"
	KindImportTypeMismatch     Kind = "ImportTypeMismatch"
	KindCoreInstantiation      Kind = "CoreInstantiation"
	KindAliasUnresolved        Kind = "AliasUnresolved"
	KindAliasSortMismatch      Kind = "AliasSortMismatch"
	KindExportUnresolved       Kind = "ExportUnresolved"
	KindExportTypeMismatch     Kind = "ExportTypeMismatch"
	KindCanonicalOptionMissing Kind = "CanonicalOptionMissing"
	KindABIError               Kind = "ABIError"
	KindResourceExhausted      Kind = "ResourceExhausted"
	KindResourceHandleInvalid  Kind = "ResourceHandleInvalid"
	KindStartFailed            Kind = "StartFailed"
	KindTrap                   Kind = "Trap"
	KindUnknown                Kind = "Unknown"
)

// phaseKinds maps legacy free-form phase strings (still used by call sites
// that predate the taxonomy) onto their Kind. New call sites should prefer
// instErrorKind and name the Kind explicitly instead of adding entries here.
var phaseKinds = map[string]Kind{
	"validate":            KindDefinitionInvalid,
	"compile":             KindCoreInstantiation,
	"module_instantiate":  KindCoreInstantiation,
	"bridge_create":       KindImportMissing,
	"import_resolution":   KindImportMissing,
	"global_bridge":       KindImportMissing,
	"start":               KindStartFailed,
	"init":                KindDefinitionInvalid,
}

// InstantiationError provides context when component instantiation fails.
// It always carries a Kind so callers can switch on taxonomy rather than
// parsing Reason text.
type InstantiationError struct {
	Cause         error
	Kind          Kind
	Phase         string
	ImportPath    string
	Reason        string
	InstanceIndex int
}

func (e *InstantiationError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))

	if e.Phase != "" {
		b.WriteString(" at ")
		b.WriteString(e.Phase)
	}

	if e.InstanceIndex >= 0 {
		fmt.Fprintf(&b, " (instance %d)", e.InstanceIndex)
	}

	if e.ImportPath != "" {
		b.WriteString(": ")
		b.WriteString(e.ImportPath)
	}

	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}

	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}

	return b.String()
}

func (e *InstantiationError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *InstantiationError with the same Kind,
// so callers can write errors.Is(err, &InstantiationError{Kind: linker.KindImportMissing}).
func (e *InstantiationError) Is(target error) bool {
	other, ok := target.(*InstantiationError)
	if !ok {
		return false
	}
	if other.Kind == "" {
		return true
	}
	return other.Kind == e.Kind
}

// instError creates an InstantiationError, inferring Kind from the legacy
// phase string. Prefer instErrorKind for new call sites.
func instError(phase string, instanceIdx int, importPath, reason string, cause error) *InstantiationError {
	kind, ok := phaseKinds[phase]
	if !ok {
		kind = KindUnknown
	}
	return instErrorKind(kind, phase, instanceIdx, importPath, reason, cause)
}

// instErrorKind creates an InstantiationError tagged with an explicit Kind.
func instErrorKind(kind Kind, phase string, instanceIdx int, importPath, reason string, cause error) *InstantiationError {
	return &InstantiationError{
		Kind:          kind,
		Phase:         phase,
		InstanceIndex: instanceIdx,
		ImportPath:    importPath,
		Reason:        reason,
		Cause:         cause,
	}
}
