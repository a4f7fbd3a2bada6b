package rest

import (
	"net/http"
	"strings"
)

// Method is a set of HTTP methods. Single methods are its one-bit values.
type Method uint8

const (
	Get Method = 1 << iota
	Post
	Put
	Delete
	Options
)

var methodNames = []struct {
	m    Method
	name string
}{
	{Get, http.MethodGet},
	{Post, http.MethodPost},
	{Put, http.MethodPut},
	{Delete, http.MethodDelete},
	{Options, http.MethodOptions},
}

// Has reports whether every method of o is in m.
func (m Method) Has(o Method) bool { return o != 0 && m&o == o }

// Names lists the methods of the set in a stable order.
func (m Method) Names() []string {
	var out []string
	for _, mn := range methodNames {
		if m&mn.m != 0 {
			out = append(out, mn.name)
		}
	}
	return out
}

func (m Method) String() string {
	names := m.Names()
	if len(names) == 0 {
		return "NONE"
	}
	return strings.Join(names, "|")
}

// ParseMethods reads a comma separated method list such as the value of an
// Allow header. Unknown tokens are ignored and matching is case-insensitive.
func ParseMethods(values ...string) Method {
	var out Method
	for _, v := range values {
		for _, tok := range strings.Split(v, ",") {
			tok = strings.TrimSpace(tok)
			for _, mn := range methodNames {
				if strings.EqualFold(tok, mn.name) {
					out |= mn.m
				}
			}
		}
	}
	return out
}
