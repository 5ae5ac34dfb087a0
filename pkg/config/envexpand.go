package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv substitutes {{.VAR_NAME}} references in raw YAML with the value
// of the named environment variable. Template syntax is used instead of $
// expansion so connection-string passwords and stop markers containing $
// pass through untouched.
//
//	connection_string: "postgres://parley:{{.PARLEY_DB_PASSWORD}}@db/parley"
//
// An unset variable renders as the empty string; the loader's validation
// rejects required fields left empty. Content that fails to parse or execute
// as a template is returned as-is, so plain YAML never breaks.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if name, value, ok := strings.Cut(kv, "="); ok && name != "" {
			env[name] = value
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return data
	}
	return buf.Bytes()
}
