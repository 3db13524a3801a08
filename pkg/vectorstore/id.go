package vectorstore

import "strconv"

// ID is a vector identifier: either a caller-supplied string token or an
// integer auto-assigned by the store. It is a plain comparable value so
// it can be used directly as a map key.
type ID struct {
	isString bool
	intVal   uint64
	strVal   string
}

// IntID wraps an auto-assigned integer id.
func IntID(v uint64) ID { return ID{intVal: v} }

// StringID wraps a caller-supplied string id.
func StringID(v string) ID { return ID{isString: true, strVal: v} }

// IsString reports whether the id is a string token rather than an
// auto-assigned integer.
func (id ID) IsString() bool { return id.isString }

// Int returns the integer value; only meaningful when !IsString().
func (id ID) Int() uint64 { return id.intVal }

// Str returns the string value; only meaningful when IsString().
func (id ID) Str() string { return id.strVal }

// Key returns a canonical string form suitable for JSON map keys and log
// fields: "i:42" for integers, "s:foo" for strings.
func (id ID) Key() string {
	if id.isString {
		return "s:" + id.strVal
	}
	return "i:" + strconv.FormatUint(id.intVal, 10)
}

func (id ID) String() string { return id.Key() }

// ParseKey reverses Key(). Returns false if the key is malformed.
func ParseKey(key string) (ID, bool) {
	if len(key) < 2 || key[1] != ':' {
		return ID{}, false
	}
	switch key[0] {
	case 's':
		return StringID(key[2:]), true
	case 'i':
		v, err := strconv.ParseUint(key[2:], 10, 64)
		if err != nil {
			return ID{}, false
		}
		return IntID(v), true
	default:
		return ID{}, false
	}
}
