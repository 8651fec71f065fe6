// Package operation implements the configurable-operation framework: business
// rules (promotion conditions/actions, shipping checkers/calculators) declared
// as persisted data, an operation code plus named argument values, resolved
// against an injected registry of implementations at evaluation time.
package operation

// ArgType enumerates the declared types an operation argument can take.
type ArgType string

const (
	ArgString   ArgType = "string"
	ArgInt      ArgType = "int"
	ArgFloat    ArgType = "float"
	ArgBoolean  ArgType = "boolean"
	ArgID       ArgType = "ID"
	ArgDatetime ArgType = "datetime"
)

// ArgDef declares a single named argument of an operation: its type,
// multiplicity, and the hints an administrative UI needs to render an
// editing form for it.
type ArgDef struct {
	Name        string
	Type        ArgType
	List        bool
	UIHint      string
	Label       string
	Description string
}

// Definition describes a configurable operation: a stable code, a
// human-readable description, and the ordered argument schema.
type Definition struct {
	Code        string
	Description string
	Args        []ArgDef
}

// WireArg is the API-facing shape of an argument declaration.
type WireArg struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	List        bool   `json:"list"`
	UIHint      string `json:"ui,omitempty"`
	Label       string `json:"label,omitempty"`
	Description string `json:"description,omitempty"`
}

// WireDefinition is the API-facing shape of a Definition, sent to clients so
// admin UIs can render rule-configuration forms.
type WireDefinition struct {
	Code        string    `json:"code"`
	Description string    `json:"description"`
	Args        []WireArg `json:"args"`
}

// Wire converts the definition to its API representation.
func (d Definition) Wire() WireDefinition {
	args := make([]WireArg, len(d.Args))
	for i, a := range d.Args {
		args[i] = WireArg{
			Name:        a.Name,
			Type:        string(a.Type),
			List:        a.List,
			UIHint:      a.UIHint,
			Label:       a.Label,
			Description: a.Description,
		}
	}
	return WireDefinition{
		Code:        d.Code,
		Description: d.Description,
		Args:        args,
	}
}

// Arg is one persisted argument value: the declared name and the raw string
// value as stored. Typed access goes through Values.
type Arg struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Instance is a persisted configurable operation: the implementation's code
// and the argument values it was configured with. The implementation itself
// is never persisted; it is resolved by code from a Registry.
type Instance struct {
	Code string `json:"code"`
	Args []Arg  `json:"args"`
}

// Values returns the instance's arguments as a name → raw value accessor.
func (i Instance) Values() Values {
	vals := make(Values, len(i.Args))
	for _, a := range i.Args {
		vals[a.Name] = a.Value
	}
	return vals
}
