package dbus

import "strings"

// ObjectPath is a D-Bus object path, e.g. "/org/freedesktop/DBus".
type ObjectPath string

// Valid reports whether p conforms to the D-Bus object path grammar:
// nonempty, starting with '/', and composed of '/'-separated elements
// of [A-Za-z0-9_], with no empty elements (so no trailing slash other
// than the root path "/" itself, and no "//").
func (p ObjectPath) Valid() bool {
	if p == "" || p[0] != '/' {
		return false
	}
	if p == "/" {
		return true
	}
	for _, elem := range strings.Split(string(p)[1:], "/") {
		if elem == "" {
			return false
		}
		for _, c := range elem {
			switch {
			case c >= 'a' && c <= 'z':
			case c >= 'A' && c <= 'Z':
			case c >= '0' && c <= '9':
			case c == '_':
			default:
				return false
			}
		}
	}
	return true
}
