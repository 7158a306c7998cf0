package ledger

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// KIND SPEC - one generic transaction-type abstraction
// =============================================================================

// Delta is a signed quantity against one balance.
type Delta struct {
	Key      Key
	Quantity decimal.Decimal
}

// KindSpec parameterizes the shared create/revise/retire protocol for a kind.
type KindSpec struct {
	Kind Kind

	// RequiresReference: the document carries a reference unique within its kind.
	RequiresReference bool

	// RequiresContact: the document names a counterparty (id or free text).
	RequiresContact bool

	// RequiresReason: the header must explain itself (Adjustment).
	RequiresReason bool

	// SubTypes allowed on the header; the first is the default. Nil means none.
	SubTypes []string

	// Directions allowed on lines. Nil means lines carry no direction.
	Directions []Direction

	// Transfer lines name a destination warehouse as well.
	HasDestination bool

	// DeliveryIn lines point at a DeliveryOut line instead of naming an item.
	ReturnsAgainstSource bool

	// ContactRole infers the role of an auto-created counterparty.
	ContactRole func(subType string) ContactRole

	// Deltas maps one line to its signed ledger effect.
	Deltas func(l Line) []Delta
}

var kindSpecs = map[Kind]KindSpec{
	KindInward: {
		Kind:              KindInward,
		RequiresReference: true,
		RequiresContact:   true,
		SubTypes:          []string{SubTypePurchase, SubTypeSalesReturn},
		ContactRole: func(subType string) ContactRole {
			if subType == SubTypeSalesReturn {
				return RoleCustomer
			}
			return RoleSupplier
		},
		Deltas: increase,
	},
	KindOutward: {
		Kind:              KindOutward,
		RequiresReference: true,
		RequiresContact:   true,
		SubTypes:          []string{SubTypeSales, SubTypePurchaseReturn},
		ContactRole: func(subType string) ContactRole {
			if subType == SubTypePurchaseReturn {
				return RoleSupplier
			}
			return RoleCustomer
		},
		Deltas: decrease,
	},
	KindProduction: {
		Kind:              KindProduction,
		RequiresReference: true,
		Directions:        []Direction{DirectionProduced, DirectionConsumed},
		Deltas: func(l Line) []Delta {
			if l.Direction == DirectionConsumed {
				return decrease(l)
			}
			return increase(l)
		},
	},
	KindTransfer: {
		Kind:              KindTransfer,
		RequiresReference: true,
		HasDestination:    true,
		Deltas: func(l Line) []Delta {
			return []Delta{
				{Key: Key{Item: l.Item, Warehouse: l.Warehouse}, Quantity: l.Quantity.Neg()},
				{Key: Key{Item: l.Item, Warehouse: l.ToWarehouse}, Quantity: l.Quantity},
			}
		},
	},
	KindDeliveryOut: {
		Kind:              KindDeliveryOut,
		RequiresReference: true,
		RequiresContact:   true,
		ContactRole:       func(string) ContactRole { return RoleCustomer },
		Deltas:            decrease,
	},
	KindDeliveryIn: {
		Kind:                 KindDeliveryIn,
		ReturnsAgainstSource: true,
		Deltas:               increase,
	},
	KindAdjustment: {
		Kind:           KindAdjustment,
		RequiresReason: true,
		Directions:     []Direction{DirectionAdd, DirectionSub},
		Deltas: func(l Line) []Delta {
			if l.Direction == DirectionSub {
				return decrease(l)
			}
			return increase(l)
		},
	},
}

// SpecFor returns the spec registered for kind.
func SpecFor(kind Kind) (KindSpec, error) {
	spec, ok := kindSpecs[kind]
	if !ok {
		return KindSpec{}, ErrUnknownKind
	}
	return spec, nil
}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := kindSpecs[k]; !ok {
		return "", ErrUnknownKind
	}
	return k, nil
}

func increase(l Line) []Delta {
	return []Delta{{Key: Key{Item: l.Item, Warehouse: l.Warehouse}, Quantity: l.Quantity}}
}

func decrease(l Line) []Delta {
	return []Delta{{Key: Key{Item: l.Item, Warehouse: l.Warehouse}, Quantity: l.Quantity.Neg()}}
}

// DefaultSubType returns the sub-type used when the header leaves it blank.
func (s KindSpec) DefaultSubType() string {
	if len(s.SubTypes) == 0 {
		return ""
	}
	return s.SubTypes[0]
}

func (s KindSpec) allowsSubType(subType string) bool {
	for _, st := range s.SubTypes {
		if st == subType {
			return true
		}
	}
	return false
}

func (s KindSpec) allowsDirection(d Direction) bool {
	for _, dir := range s.Directions {
		if dir == d {
			return true
		}
	}
	return false
}

// DocumentDeltas flattens the signed effect of every line in doc.
func (s KindSpec) DocumentDeltas(doc Document) []Delta {
	var out []Delta
	for _, l := range doc.Lines {
		out = append(out, s.Deltas(l)...)
	}
	return out
}

// Keys returns the distinct balance keys doc touches.
func (s KindSpec) Keys(doc Document) []Key {
	seen := make(map[Key]bool)
	var keys []Key
	for _, d := range s.DocumentDeltas(doc) {
		if d.Key.Item == "" || d.Key.Warehouse == "" || seen[d.Key] {
			continue
		}
		seen[d.Key] = true
		keys = append(keys, d.Key)
	}
	return keys
}
