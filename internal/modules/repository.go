// Package modules resolves modules and loads their descriptors and models
// from a modules directory:
//
//	<modules>/<module>/module.yaml          optional descriptor
//	<modules>/<module>/models/<env>.yaml    models for one environment
package modules

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/pineapple/internal/validation"
	"github.com/rendis/pineapple/pkg/schema"
)

const (
	// DescriptorFile is the module descriptor file name.
	DescriptorFile = "module.yaml"
	// ModelsDir is the directory holding one model file per environment.
	ModelsDir = "models"

	modelExt = ".yaml"
)

// Repository reads modules from a directory. It holds no state besides its
// configuration, so every call sees the current files.
type Repository struct {
	dir       string
	validator validation.Validator
	logger    *slog.Logger
}

// NewRepository creates a Repository over dir. A nil validator skips schema
// validation.
func NewRepository(dir string, validator validation.Validator, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{dir: dir, validator: validator, logger: logger}
}

// Dir returns the modules directory.
func (r *Repository) Dir() string { return r.dir }

// Verify checks that the modules directory exists.
func (r *Repository) Verify() error {
	st, err := os.Stat(r.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return schema.NewErrorf(schema.ErrCodeNotFound, "modules directory %q not found", r.dir)
		}
		return schema.NewErrorf(schema.ErrCodeResolution, "modules directory %q: %v", r.dir, err).WithCause(err)
	}
	if !st.IsDir() {
		return schema.NewErrorf(schema.ErrCodeResolution, "modules directory %q is not a directory", r.dir)
	}
	return nil
}

// Resolve locates a module for an environment. A module without a model
// file for the environment resolves with EnvironmentDefined false.
func (r *Repository) Resolve(module, environment string) (*schema.ModuleInfo, error) {
	if err := validName("module", module); err != nil {
		return nil, err
	}
	if err := validName("environment", environment); err != nil {
		return nil, err
	}

	dir := filepath.Join(r.dir, module)
	st, err := os.Stat(dir)
	if err != nil || !st.IsDir() {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound,
			"module <%s> not found in modules directory %q", module, r.dir).
			WithDetails(map[string]any{"module": module})
	}

	info := &schema.ModuleInfo{
		ID:                module,
		Directory:         dir,
		DescriptorDefined: fileExists(filepath.Join(dir, DescriptorFile)),
		ModelFile:         filepath.Join(dir, ModelsDir, environment+modelExt),
	}
	info.EnvironmentDefined = fileExists(info.ModelFile)

	r.logger.Debug("resolved module",
		slog.String("module", module),
		slog.String("environment", environment),
		slog.Bool("descriptor_defined", info.DescriptorDefined),
		slog.Bool("environment_defined", info.EnvironmentDefined))
	return info, nil
}

// LoadDescriptor reads module.yaml. Modules without one get a descriptor
// with the module id and DefaultModuleVersion.
func (r *Repository) LoadDescriptor(info *schema.ModuleInfo) (*schema.ModuleDescriptor, error) {
	if info == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "module info is undefined")
	}
	if !info.DescriptorDefined {
		return &schema.ModuleDescriptor{ID: info.ID, Version: schema.DefaultModuleVersion}, nil
	}

	path := filepath.Join(info.Directory, DescriptorFile)
	var validate func(any) error
	if r.validator != nil {
		validate = r.validator.ValidateDescriptor
	}
	var desc schema.ModuleDescriptor
	if err := r.decode(path, &desc, validate); err != nil {
		return nil, err
	}
	if desc.ID == "" {
		desc.ID = info.ID
	}
	if desc.Version == "" {
		desc.Version = schema.DefaultModuleVersion
	}
	return &desc, nil
}

// LoadModels reads the model file of the environment the module was
// resolved for.
func (r *Repository) LoadModels(info *schema.ModuleInfo) (*Models, error) {
	if info == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "module info is undefined")
	}
	if !info.EnvironmentDefined {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "model file %q not found", info.ModelFile)
	}
	var validate func(any) error
	if r.validator != nil {
		validate = r.validator.ValidateModels
	}
	var models Models
	if err := r.decode(info.ModelFile, &models, validate); err != nil {
		return nil, err
	}
	return &models, nil
}

// List returns the module names in the modules directory, sorted.
func (r *Repository) List() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeResolution, "read modules directory %q", r.dir).WithCause(err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Environments returns the environments a module defines models for, sorted.
func (r *Repository) Environments(module string) ([]string, error) {
	if err := validName("module", module); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(r.dir, module, ModelsDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, schema.NewErrorf(schema.ErrCodeResolution, "read models of module <%s>", module).WithCause(err)
	}
	var envs []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), modelExt) {
			envs = append(envs, strings.TrimSuffix(e.Name(), modelExt))
		}
	}
	sort.Strings(envs)
	return envs, nil
}

// decode reads a YAML file, validates its generic form and decodes it into out.
func (r *Repository) decode(path string, out any, validate func(any) error) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeResolution, "read %q", path).WithCause(err)
	}
	if validate != nil {
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "parse %q: %v", path, err).WithCause(err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
		if err := validate(doc); err != nil {
			var pErr *schema.PineappleError
			if errors.As(err, &pErr) {
				return schema.NewErrorf(schema.ErrCodeValidation, "invalid %q: %s", path, pErr.Message).
					WithDetails(pErr.Details).WithCause(err)
			}
			return schema.NewErrorf(schema.ErrCodeValidation, "invalid %q", path).WithCause(err)
		}
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "decode %q: %v", path, err).WithCause(err)
	}
	return nil
}

func validName(kind, name string) error {
	if strings.TrimSpace(name) == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s is undefined", kind)
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s %q is not a valid name", kind, name)
	}
	return nil
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
