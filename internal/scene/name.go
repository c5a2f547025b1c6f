package scene

import (
	"regexp"

	"github.com/iancoleman/strcase"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// CanonicalName turns a configured scene name such as "gen_scene" or
// "gen-scene" into a Python class name. Names that cannot be made into an
// identifier fall back to DefaultSceneName.
func CanonicalName(name string) string {
	camel := strcase.ToCamel(name)
	if !identifier.MatchString(camel) {
		return DefaultSceneName
	}
	return camel
}
