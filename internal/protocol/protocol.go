package protocol

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"vqaexplain/internal/services"
	"vqaexplain/internal/textutil"
)

// Entry is one protocol record. Entries are immutable once loaded.
type Entry struct {
	ID           string
	Question     string
	Answer       string
	ImageName    string // lower-cased
	RemoveObject string // empty when absent
}

// HasRemoval reports whether the entry requests object removal.
func (e Entry) HasRemoval() bool {
	return e.RemoveObject != ""
}

// ImageStem returns the image name up to its first dot.
func (e Entry) ImageStem() string {
	return textutil.ImageStem(e.ImageName)
}

// ImagePath locates the entry image below the protocol image directory.
func (e Entry) ImagePath(imagesDir string) string {
	return filepath.Join(imagesDir, e.ImageStem(), e.ImageName)
}

type record struct {
	Q string `yaml:"Q"`
	A string `yaml:"A"`
	I string `yaml:"I"`
	R string `yaml:"R"`
}

// Load reads and parses the protocol file at path.
func Load(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrConfiguration, "protocol", "load", "protocol file not found: "+path, err)
		}
		return nil, fmt.Errorf("read protocol: %w", err)
	}
	entries, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// Parse decodes protocol data. The top level is either a mapping of
// identifier to record or a sequence of records, which are numbered from 1.
func Parse(data []byte) ([]Entry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "protocol", "parse", "invalid protocol syntax", err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "protocol", "parse", "protocol is empty", nil)
	}
	root := doc.Content[0]

	var entries []Entry
	switch root.Kind {
	case yaml.MappingNode:
		seen := make(map[string]struct{}, len(root.Content)/2)
		for i := 0; i+1 < len(root.Content); i += 2 {
			id := strings.TrimSpace(root.Content[i].Value)
			if _, dup := seen[id]; dup {
				return nil, services.Wrap(services.ErrConfiguration, "protocol", "parse", fmt.Sprintf("duplicate entry %q", id), nil)
			}
			seen[id] = struct{}{}
			entry, err := decodeEntry(id, root.Content[i+1])
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		}
	case yaml.SequenceNode:
		for i, node := range root.Content {
			entry, err := decodeEntry(strconv.Itoa(i+1), node)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		}
	default:
		return nil, services.Wrap(services.ErrConfiguration, "protocol", "parse", "protocol must be a mapping of entries", nil)
	}
	return entries, nil
}

func decodeEntry(id string, node *yaml.Node) (Entry, error) {
	if id == "" {
		return Entry{}, services.Wrap(services.ErrConfiguration, "protocol", "parse", "entry with empty identifier", nil)
	}
	if node.Kind != yaml.MappingNode {
		return Entry{}, services.Wrap(services.ErrConfiguration, "protocol", "parse", fmt.Sprintf("entry %s is not a mapping", id), nil)
	}
	var rec record
	if err := node.Decode(&rec); err != nil {
		return Entry{}, services.Wrap(services.ErrConfiguration, "protocol", "parse", "entry "+id, err)
	}
	entry := Entry{
		ID:           id,
		Question:     strings.TrimSpace(rec.Q),
		Answer:       strings.TrimSpace(rec.A),
		ImageName:    textutil.Lower(strings.TrimSpace(rec.I)),
		RemoveObject: optional(rec.R),
	}
	var missing []string
	if entry.Question == "" {
		missing = append(missing, "Q")
	}
	if entry.Answer == "" {
		missing = append(missing, "A")
	}
	if entry.ImageName == "" {
		missing = append(missing, "I")
	}
	if len(missing) > 0 {
		return Entry{}, services.Wrap(services.ErrConfiguration, "protocol", "parse",
			fmt.Sprintf("entry %s missing %s", id, strings.Join(missing, ", ")), nil)
	}
	return entry, nil
}

func optional(value string) string {
	value = strings.TrimSpace(value)
	switch value {
	case "None", "null", "Null", "NULL", "~":
		return ""
	}
	return value
}
