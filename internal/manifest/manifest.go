package manifest

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrMalformed is returned when a manifest cannot be parsed as XML.
	ErrMalformed = errors.New("malformed project manifest")
	// ErrAmbiguousRoot is returned when a directory does not contain exactly one manifest.
	ErrAmbiguousRoot = errors.New("root directory must contain exactly one project manifest")
	// ErrIO is returned when a manifest or its directory cannot be read.
	ErrIO = errors.New("manifest i/o failure")
)

// utf8BOM is stripped before parsing; dotnet tooling commonly writes manifests with it.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Parser extracts project reference declarations from manifest files.
type Parser struct {
	// extension identifies manifest files, including the leading dot.
	extension string
}

// NewParser creates a parser for manifests with the provided file extension.
func NewParser(extension string) *Parser {
	return &Parser{extension: extension}
}

// Extension returns the manifest file extension the parser matches.
func (p *Parser) Extension() string {
	return p.extension
}

// project models the subset of the manifest markup carrying reference declarations.
// Everything else in the document is intentionally not modeled: rewriting is
// textual and must not depend on a full structural round-trip.
type project struct {
	ItemGroups []itemGroup `xml:"ItemGroup"`
}

type itemGroup struct {
	References []projectReference `xml:"ProjectReference"`
}

type projectReference struct {
	Include string `xml:"Include,attr"`
}

// References parses the manifest at path and returns its declared project
// reference paths in declaration order. Values not ending in the manifest
// extension are ignored. A manifest without references yields an empty slice.
// An unreadable file yields ErrIO and unparsable markup yields ErrMalformed.
func (p *Parser) References(path string) ([]string, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrIO, path, err)
	}

	return p.parse(path, contents)
}

// parse extracts reference declarations from raw manifest contents.
func (p *Parser) parse(path string, contents []byte) ([]string, error) {
	contents = bytes.TrimPrefix(contents, utf8BOM)

	var doc project
	if err := xml.Unmarshal(contents, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}

	var references []string

	for _, group := range doc.ItemGroups {
		for _, reference := range group.References {
			if reference.Include == "" {
				continue
			}

			if !strings.HasSuffix(reference.Include, p.extension) {
				continue
			}

			references = append(references, reference.Include)
		}
	}

	return references, nil
}

// FindRoot locates the single manifest file directly inside dir.
// Zero or more than one eligible file fails with ErrAmbiguousRoot.
func (p *Parser) FindRoot(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("%w: read directory %s: %w", ErrIO, dir, err)
	}

	var manifests []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if strings.HasSuffix(entry.Name(), p.extension) {
			manifests = append(manifests, entry.Name())
		}
	}

	if len(manifests) != 1 {
		return "", fmt.Errorf("%w: %s contains %d *%s files",
			ErrAmbiguousRoot, dir, len(manifests), p.extension)
	}

	return filepath.Join(dir, manifests[0]), nil
}
