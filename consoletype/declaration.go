package consoletype

import (
	"maps"
	"slices"
)

// DeclarationKind identifies the concrete variant of a Declaration.
type DeclarationKind string

const (
	DeclarationKindExtension DeclarationKind = "ExtensionDeclaration"
	DeclarationKindInstance  DeclarationKind = "InstanceDeclaration"
	DeclarationKindType      DeclarationKind = "TypeDeclaration"
)

// UnnamedInstance is the instance name of an instance declaration that wasn't
// given an explicit name.
const UnnamedInstance = "unnamed"

// Declaration describes a registered component, instance, or extension of the
// host along with whether it's currently bound.
//
// The set of variants is closed. Callers resolve the concrete variant with a
// type switch on *ExtensionDeclaration, *InstanceDeclaration, and
// *TypeDeclaration.
type Declaration interface {
	// Details returns the variant-specific fields of the declaration in
	// display order. Verbose includes fields that are only of interest when
	// inspecting a single declaration.
	Details(verbose bool) []DetailField

	// Kind is the variant of the declaration.
	Kind() DeclarationKind

	// Status is the binding status of the declaration.
	Status() DeclarationStatus

	declarationMarker()
}

// DeclarationStatus is the binding status of a declaration.
type DeclarationStatus struct {
	// Bound is true if every requirement of the declaration is satisfied.
	Bound bool

	// Err is the failure that kept the declaration from binding, if any.
	Err error

	// Message is a human readable explanation of the status.
	Message string
}

// DetailField is a single labeled value describing a declaration.
type DetailField struct {
	// Name is the field's label.
	Name string

	// Property is true if the field is an entry of a declaration's
	// configuration properties rather than one of its own attributes.
	Property bool

	// Value is the field's value. Configuration values may be of any type.
	Value any
}

// ExtensionDeclaration declares an extension that other types may require.
type ExtensionDeclaration struct {
	Binding       DeclarationStatus
	ExtensionName string
}

func (d *ExtensionDeclaration) Details(verbose bool) []DetailField {
	return []DetailField{{Name: "Name", Value: d.ExtensionName}}
}

func (d *ExtensionDeclaration) Kind() DeclarationKind     { return DeclarationKindExtension }
func (d *ExtensionDeclaration) Status() DeclarationStatus { return d.Binding }
func (*ExtensionDeclaration) declarationMarker()          {}

// InstanceDeclaration declares a configured instance of a component type.
type InstanceDeclaration struct {
	Binding          DeclarationStatus
	ComponentName    string
	ComponentVersion string
	Configuration    map[string]any

	// InstanceName is the name of the instance, or UnnamedInstance.
	InstanceName string
}

func (d *InstanceDeclaration) Details(verbose bool) []DetailField {
	var fields []DetailField

	if d.InstanceName != "" && d.InstanceName != UnnamedInstance {
		fields = append(fields, DetailField{Name: "Name", Value: d.InstanceName})
	}
	fields = append(fields, DetailField{Name: "Component", Value: d.ComponentName})
	if d.ComponentVersion != "" {
		fields = append(fields, DetailField{Name: "Version", Value: d.ComponentVersion})
	}

	if verbose {
		for _, key := range slices.Sorted(maps.Keys(d.Configuration)) {
			fields = append(fields, DetailField{Name: key, Property: true, Value: d.Configuration[key]})
		}
	}

	return fields
}

func (d *InstanceDeclaration) Kind() DeclarationKind     { return DeclarationKindInstance }
func (d *InstanceDeclaration) Status() DeclarationStatus { return d.Binding }
func (*InstanceDeclaration) declarationMarker()          {}

// TypeDeclaration declares a component type which instances can be created
// from.
type TypeDeclaration struct {
	Binding          DeclarationStatus
	ComponentName    string
	ComponentVersion string
	Public           bool

	// Requires is the name of the extension the type needs to bind.
	Requires string
}

func (d *TypeDeclaration) Details(verbose bool) []DetailField {
	fields := []DetailField{{Name: "Name", Value: d.ComponentName}}

	if verbose {
		fields = append(fields, DetailField{Name: "Public", Value: d.Public})
		if d.ComponentVersion != "" {
			fields = append(fields, DetailField{Name: "Version", Value: d.ComponentVersion})
		}
		fields = append(fields, DetailField{Name: "Requires", Value: d.Requires})
	}

	return fields
}

func (d *TypeDeclaration) Kind() DeclarationKind     { return DeclarationKindType }
func (d *TypeDeclaration) Status() DeclarationStatus { return d.Binding }
func (*TypeDeclaration) declarationMarker()          {}

// ServiceRef identifies a registered declaration.
type ServiceRef struct {
	// OwnerID is the identifier of the module that registered the
	// declaration.
	OwnerID int64

	// ServiceID is the stable, unique identifier of the declaration.
	ServiceID int64
}
