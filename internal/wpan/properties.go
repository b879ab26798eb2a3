package wpan

import (
	"fmt"
	"math"
)

// AdapterInterface is the interface name PHY objects are published under.
const AdapterInterface = "net.connman.iwpand.Adapter"

// InterfaceObjectInterface is the interface name of interface objects.
const InterfaceObjectInterface = "net.connman.iwpand.Interface"

// Published property names. These are part of the external contract.
const (
	PropPowered    = "Powered"
	PropName       = "Name"
	PropChannel    = "Channel"
	PropPANID      = "PANID"
	PropLowpanLink = "LowpanLink"
)

// PropertyType is the bus type signature of a property value.
type PropertyType string

// Property types, using D-Bus signature letters.
const (
	TypeBool   PropertyType = "b"
	TypeString PropertyType = "s"
	TypeByte   PropertyType = "y"
	TypeUint16 PropertyType = "q"
)

// PropertySpec describes one published property.
type PropertySpec struct {
	Name     string       `json:"name"`
	Type     PropertyType `json:"type"`
	Writable bool         `json:"writable"`
}

// PhyProperties are the properties of every PHY object.
var PhyProperties = []PropertySpec{
	{Name: PropPowered, Type: TypeBool, Writable: true},
	{Name: PropName, Type: TypeString},
	{Name: PropChannel, Type: TypeByte, Writable: true},
	{Name: PropPANID, Type: TypeUint16},
}

// InterfaceProperties are the properties of every interface object.
var InterfaceProperties = []PropertySpec{
	{Name: PropName, Type: TypeString},
	{Name: PropPANID, Type: TypeUint16},
	{Name: PropLowpanLink, Type: TypeBool},
}

// PropertiesOf returns the property list for an entity kind.
func PropertiesOf(kind EntityKind) []PropertySpec {
	if kind == KindPhy {
		return PhyProperties
	}
	return InterfaceProperties
}

// lookupProperty finds a property spec by name.
func lookupProperty(kind EntityKind, name string) (PropertySpec, error) {
	for _, p := range PropertiesOf(kind) {
		if p.Name == name {
			return p, nil
		}
	}
	return PropertySpec{}, fmt.Errorf("%w: %s has no property %q", ErrUnknownProperty, kind, name)
}

// Object is a read of one entity in bus terms.
type Object struct {
	Ref        EntityRef      `json:"ref"`
	Path       string         `json:"path"`
	Interface  string         `json:"interface"`
	Properties map[string]any `json:"properties"`
}

// Property reads one property of an entity.
func (r *Registry) Property(ref EntityRef, name string) (any, error) {
	if _, err := lookupProperty(ref.Kind, name); err != nil {
		return nil, err
	}

	switch ref.Kind {
	case KindPhy:
		p, err := r.Phy(PhyID(ref.ID))
		if err != nil {
			return nil, err
		}
		return phyProperty(p, name), nil
	case KindInterface:
		i, err := r.Interface(InterfaceID(ref.ID))
		if err != nil {
			return nil, err
		}
		return interfaceProperty(i, name), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
}

func phyProperty(p Phy, name string) any {
	switch name {
	case PropPowered:
		return p.Powered
	case PropName:
		return p.Name
	case PropChannel:
		return p.Channel
	default:
		return p.PANID
	}
}

func interfaceProperty(i Interface, name string) any {
	switch name {
	case PropName:
		return i.Name
	case PropLowpanLink:
		return i.HasLowpanLink
	default:
		return i.PANID
	}
}

// Describe returns the object path and all current property values of an
// entity.
//
// PHYs live at "/<phy name>". Interfaces live under their PHY at
// "/<phy name>/<interface name>", or at "/<interface name>" while their PHY
// is unknown.
func (r *Registry) Describe(ref EntityRef) (Object, error) {
	obj := Object{Ref: ref, Properties: make(map[string]any)}

	switch ref.Kind {
	case KindPhy:
		p, err := r.Phy(PhyID(ref.ID))
		if err != nil {
			return Object{}, err
		}
		obj.Path = "/" + p.Name
		obj.Interface = AdapterInterface
		for _, spec := range PhyProperties {
			obj.Properties[spec.Name] = phyProperty(p, spec.Name)
		}
	case KindInterface:
		i, err := r.Interface(InterfaceID(ref.ID))
		if err != nil {
			return Object{}, err
		}
		obj.Path = "/" + i.Name
		if i.HasPhy {
			if p, err := r.Phy(i.Phy); err == nil {
				obj.Path = "/" + p.Name + "/" + i.Name
			}
		}
		obj.Interface = InterfaceObjectInterface
		for _, spec := range InterfaceProperties {
			obj.Properties[spec.Name] = interfaceProperty(i, spec.Name)
		}
	default:
		return Object{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return obj, nil
}

// coerceBool accepts a bool property value.
func coerceBool(v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: want bool, got %T", ErrInvalidValue, v)
	}
	return b, nil
}

// coerceByte accepts a byte property value from the numeric types JSON
// decoders and typed callers produce.
func coerceByte(v any) (uint8, error) {
	var n float64
	switch x := v.(type) {
	case uint8:
		return x, nil
	case int:
		n = float64(x)
	case int64:
		n = float64(x)
	case uint32:
		n = float64(x)
	case float64:
		n = x
	default:
		return 0, fmt.Errorf("%w: want byte, got %T", ErrInvalidValue, v)
	}
	if n < 0 || n > math.MaxUint8 || n != math.Trunc(n) {
		return 0, fmt.Errorf("%w: %v is not a byte", ErrInvalidValue, v)
	}
	return uint8(n), nil
}
