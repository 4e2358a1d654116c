// Package resources implements the config & resource loader: it locates a
// schema file, enumerates a directory of .rig files, parses and
// semantically validates each one individually, and hands back an
// immutable catalog of interpreters bound to their rig-model name.
package resources

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openrigd/rigd/dsl/ast"
	"github.com/openrigd/rigd/dsl/interp"
	"github.com/openrigd/rigd/dsl/parser"
	"github.com/openrigd/rigd/dsl/sema"
	"github.com/openrigd/rigd/internal/apperror"
	"github.com/openrigd/rigd/internal/rigdlog"
)

// Resources is the immutable result of a successful load: the schema every
// rig implements, and one Interpreter per rig model, keyed by file stem.
type Resources struct {
	Schema *ast.Schema
	Rigs   map[string]*interp.Interpreter
}

// RigError reports why one .rig file was excluded from the catalog. The
// loader keeps going after one: a broken rig file must not take the rest
// of the fleet down.
type RigError struct {
	Path string
	Err  error
}

func (e RigError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// Load reads schemaPath, then every *.rig file directly under rigsDir,
// parsing and validating each against the schema. Rigs that fail are
// reported in the returned []RigError rather than aborting the load.
func Load(schemaPath, rigsDir string) (*Resources, []RigError) {
	log := rigdlog.For("resources")

	schemaSrc, err := os.ReadFile(schemaPath)
	if err != nil {
		return nil, []RigError{{Path: schemaPath, Err: apperror.Wrap(apperror.KindConfig, "reading schema file", err)}}
	}
	schema, err := parser.ParseSchema(string(schemaSrc))
	if err != nil {
		return nil, []RigError{{Path: schemaPath, Err: apperror.Wrap(apperror.KindParse, "parsing schema", err)}}
	}

	entries, err := os.ReadDir(rigsDir)
	if err != nil {
		return nil, []RigError{{Path: rigsDir, Err: apperror.Wrap(apperror.KindConfig, "reading rigs directory", err)}}
	}

	res := &Resources{Schema: schema, Rigs: map[string]*interp.Interpreter{}}
	var errs []RigError
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".rig") {
			continue
		}
		path := filepath.Join(rigsDir, ent.Name())
		stem := strings.TrimSuffix(ent.Name(), ".rig")
		rigSrc, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, RigError{Path: path, Err: apperror.Wrap(apperror.KindConfig, "reading rig file", err)})
			continue
		}
		rig, err := parser.ParseRig(string(rigSrc))
		if err != nil {
			errs = append(errs, RigError{Path: path, Err: apperror.Wrap(apperror.KindParse, "parsing rig", err)})
			continue
		}
		if err := sema.Analyze(rig, schema); err != nil {
			errs = append(errs, RigError{Path: path, Err: apperror.Wrap(apperror.KindSchema, "validating rig against schema", err)})
			continue
		}
		res.Rigs[stem] = interp.New(rig, schema)
		log.Debug().Str("rig_model", stem).Msg("loaded rig")
	}
	for _, e := range errs {
		log.Warn().Str("path", e.Path).Err(e.Err).Msg("rig excluded from catalog")
	}
	return res, errs
}
