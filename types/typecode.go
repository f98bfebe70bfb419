package types

// TypeCode represents MOO type values as reported by typeof().
type TypeCode int

const (
	TYPE_INT       TypeCode = 0
	TYPE_OBJ       TypeCode = 1
	TYPE_STR       TypeCode = 2
	TYPE_ERR       TypeCode = 3
	TYPE_LIST      TypeCode = 4
	TYPE_NONE      TypeCode = 6
	TYPE_FLOAT     TypeCode = 9
	TYPE_MAP       TypeCode = 10
	TYPE_BOOL      TypeCode = 14
	TYPE_SYM       TypeCode = 15
	TYPE_FLYWEIGHT TypeCode = 16
)

// String returns the string representation of the type code
func (t TypeCode) String() string {
	switch t {
	case TYPE_INT:
		return "INT"
	case TYPE_OBJ:
		return "OBJ"
	case TYPE_STR:
		return "STR"
	case TYPE_ERR:
		return "ERR"
	case TYPE_LIST:
		return "LIST"
	case TYPE_NONE:
		return "NONE"
	case TYPE_FLOAT:
		return "FLOAT"
	case TYPE_MAP:
		return "MAP"
	case TYPE_BOOL:
		return "BOOL"
	case TYPE_SYM:
		return "SYM"
	case TYPE_FLYWEIGHT:
		return "FLYWEIGHT"
	default:
		return "UNKNOWN"
	}
}
