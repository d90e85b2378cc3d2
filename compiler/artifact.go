package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pgavlin/tandem/load"
	"github.com/pgavlin/tandem/wasm"
	"github.com/pgavlin/tandem/wasm/leb128"
)

var artifactMagic = []byte("TNDA")

// stubBody is the body of a compiled function in a metadata module: unreachable, end.
var stubBody = []byte{0x00, 0x0b}

// ArtifactPaths returns the paths of the metadata module and the units file of the named artifact.
func ArtifactPaths(dir, name string) (meta, units string) {
	return filepath.Join(dir, name+".meta.wasm"), filepath.Join(dir, name+".units")
}

// MetadataModule returns a copy of the module in which the bodies of the program's compiled functions are
// replaced by trap stubs. The bodies of interpreted functions are kept.
func MetadataModule(m *load.Module, p *Program) *wasm.Module {
	meta := *m.Module
	if m.Code == nil {
		return &meta
	}

	code := &wasm.SectionCode{Bodies: make([]wasm.FunctionBody, len(m.Code.Bodies))}
	for i, body := range m.Code.Bodies {
		if _, ok := p.Function(p.imports + uint32(i)); ok {
			code.Bodies[i] = wasm.FunctionBody{Code: stubBody}
		} else {
			code.Bodies[i] = wasm.FunctionBody{Locals: body.Locals, Code: body.Code}
		}
	}
	meta.Code = code
	return &meta
}

// WriteArtifact writes the program and the metadata module of m to dir under the given name. Each file is
// written to a temporary file and renamed into place.
func WriteArtifact(dir, name string, m *load.Module, p *Program) error {
	if uint32(m.NumImportedFunctions()) != p.imports || len(m.Functions) != p.defined {
		return fmt.Errorf("program %v was not compiled from module %v", p.name, m.Name)
	}
	metaPath, unitsPath := ArtifactPaths(dir, name)

	var meta bytes.Buffer
	if err := wasm.EncodeModule(&meta, MetadataModule(m, p)); err != nil {
		return fmt.Errorf("encoding metadata module: %w", err)
	}
	if err := writeFile(metaPath, meta.Bytes()); err != nil {
		return err
	}

	b := append([]byte(nil), artifactMagic...)
	b = appendUint(b, formatVersion)
	b = appendUint(b, len(p.name))
	b = append(b, p.name...)
	b = leb128.AppendVarUint64(b, uint64(p.imports))
	b = appendUint(b, p.defined)
	b = appendUint(b, len(p.units))
	for _, u := range p.units {
		data := EncodeUnit(u)
		b = appendUint(b, len(data))
		b = append(b, data...)
	}
	return writeFile(unitsPath, b)
}

func writeFile(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// LoadArtifact reads an artifact written by WriteArtifact. It returns the metadata module and the program.
func LoadArtifact(ctx context.Context, dir, name string) (*load.Module, *Program, error) {
	metaPath, unitsPath := ArtifactPaths(dir, name)

	m, err := load.LoadFile(ctx, metaPath, nil)
	if err != nil {
		return nil, nil, err
	}

	data, err := os.ReadFile(unitsPath)
	if err != nil {
		return nil, nil, err
	}
	r := newReader(data)
	magic := r.bytes(len(artifactMagic))
	if r.err == nil && !bytes.Equal(magic, artifactMagic) {
		r.fail(errors.New("bad artifact magic"))
	}
	if v := r.int(); r.err == nil && v != formatVersion {
		r.fail(fmt.Errorf("unsupported artifact version %d", v))
	}
	progName := string(r.bytes(r.int()))
	imports, defined := uint32(r.uint64()), r.int()

	var units []*Unit
	for n := r.count(); r.err == nil && len(units) < n; {
		u, err := DecodeUnit(r.bytes(r.int()))
		if err != nil {
			r.fail(err)
			break
		}
		units = append(units, u)
	}
	if r.err != nil {
		return nil, nil, fmt.Errorf("loading %v: %w", unitsPath, r.err)
	}

	if uint32(m.NumImportedFunctions()) != imports || len(m.Functions) != defined {
		return nil, nil, fmt.Errorf("loading %v: units do not match the metadata module", unitsPath)
	}
	p, err := newProgram(progName, imports, defined, units)
	if err != nil {
		return nil, nil, fmt.Errorf("loading %v: %w", unitsPath, err)
	}
	return m, p, nil
}
