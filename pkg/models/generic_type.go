package models

// GenericType is the database-agnostic column type stored in the catalog.
type GenericType string

const (
	TypeInteger   GenericType = "Integer"
	TypeDecimal   GenericType = "Decimal"
	TypeText      GenericType = "Text"
	TypeString    GenericType = "String"
	TypeDate      GenericType = "Date"
	TypeDatetime  GenericType = "Datetime"
	TypeBoolean   GenericType = "Boolean"
	TypeGeography GenericType = "Geography"
	TypeUnknown   GenericType = "Unknown"
)

// FallbackType is assigned to native types no dialect recognizes.
const FallbackType = TypeString

var genericTypes = map[GenericType]bool{
	TypeInteger:   true,
	TypeDecimal:   true,
	TypeText:      true,
	TypeString:    true,
	TypeDate:      true,
	TypeDatetime:  true,
	TypeBoolean:   true,
	TypeGeography: true,
	TypeUnknown:   true,
}

// IsValid reports whether t is one of the declared generic types.
func (t GenericType) IsValid() bool {
	return genericTypes[t]
}

// IsNumeric reports whether values of t are numbers.
func (t GenericType) IsNumeric() bool {
	return t == TypeInteger || t == TypeDecimal
}

// IsTemporal reports whether values of t are dates or timestamps.
func (t GenericType) IsTemporal() bool {
	return t == TypeDate || t == TypeDatetime
}

// IsTextual reports whether t can be matched with LIKE without a cast.
func (t GenericType) IsTextual() bool {
	return t == TypeText || t == TypeString
}
