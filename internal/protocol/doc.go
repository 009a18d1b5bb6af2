// Package protocol loads analysis protocols: ordered mappings from an entry
// identifier to a question, ground-truth answer, image filename and an
// optional object to remove.
//
// Protocol files are parsed as YAML, which also accepts the JSON and
// Python-literal dictionaries used by older protocol files. Entry order in
// the file is preserved.
package protocol
